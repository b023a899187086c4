package caldav

import "encoding/xml"

// multistatus is the body of a 207 response to PROPFIND and REPORT.
// Namespaces are intentionally ignored; local element names are unambiguous
// across the DAV:, caldav and Apple vocabularies we touch.
type multistatus struct {
	XMLName   xml.Name      `xml:"multistatus"`
	SyncToken string        `xml:"sync-token"`
	Responses []davResponse `xml:"response"`
}

// davResponse describes one resource inside a multistatus. Removed members
// of a sync-collection report carry a top-level 404 status and no propstat.
type davResponse struct {
	Href      string     `xml:"href"`
	Status    string     `xml:"status"`
	Propstats []propstat `xml:"propstat"`
}

type propstat struct {
	Status string `xml:"status"`
	Prop   prop   `xml:"prop"`
}

type prop struct {
	ETag                 string       `xml:"getetag"`
	DisplayName          string       `xml:"displayname"`
	CalendarData         string       `xml:"calendar-data"`
	SyncToken            string       `xml:"sync-token"`
	ResourceType         resourceType `xml:"resourcetype"`
	CurrentUserPrincipal hrefValue    `xml:"current-user-principal"`
	CalendarHomeSet      hrefValue    `xml:"calendar-home-set"`
}

type resourceType struct {
	Calendar *struct{} `xml:"calendar"`
}

type hrefValue struct {
	Href string `xml:"href"`
}
