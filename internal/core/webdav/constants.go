package webdav

// HTTP methods used in WebDAV protocol
const (
	PROPFIND = "PROPFIND"
)

// HTTP status codes used in WebDAV protocol
const (
	StatusMultiStatus = 207
)

// HTTP headers used in WebDAV protocol
const (
	DepthHeader = "Depth"
)

// propfindBody asks only for the properties a directory browser needs.
const propfindBody = `<?xml version="1.0" encoding="utf-8" ?>
<D:propfind xmlns:D="DAV:">
  <D:prop>
    <D:displayname/>
    <D:getcontentlength/>
    <D:getlastmodified/>
    <D:resourcetype/>
  </D:prop>
</D:propfind>`
