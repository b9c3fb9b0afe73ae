package webdav

import "encoding/xml"

// Tags carry no namespace so any prefix bound to DAV: matches.
type Multistatus struct {
	XMLName   xml.Name   `xml:"multistatus"`
	Responses []Response `xml:"response"`
}

type Response struct {
	Href     string     `xml:"href"`
	Propstat []Propstat `xml:"propstat"`
}

type Propstat struct {
	Prop   Prop   `xml:"prop"`
	Status string `xml:"status"`
}

// ContentLength is kept as text: servers send it empty for collections.
type Prop struct {
	DisplayName   string       `xml:"displayname"`
	ResourceType  ResourceType `xml:"resourcetype"`
	LastModified  string       `xml:"getlastmodified"`
	ContentLength string       `xml:"getcontentlength"`
}

type ResourceType struct {
	Collection *struct{} `xml:"collection"`
}
