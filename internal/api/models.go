package api

import "encoding/json"

// ItemStateDeleted marks an item or page removed upstream since the last sync.
const ItemStateDeleted = 3

type ItemProperties struct {
	State          int    `json:"state"`
	Modified       string `json:"modified"`
	VersionID      int64  `json:"versionID"`
	ReferenceName  string `json:"referenceName,omitempty"`
	DefinitionName string `json:"definitionName,omitempty"`
	ItemOrder      int    `json:"itemOrder,omitempty"`
}

// ContentItem is a content item as returned by the sync endpoint. Fields are
// kept raw because their shape depends on the content definition.
type ContentItem struct {
	ContentID  int64           `json:"contentID"`
	Properties ItemProperties  `json:"properties"`
	Fields     json.RawMessage `json:"fields,omitempty"`
	Seo        json.RawMessage `json:"seo,omitempty"`
}

func (c ContentItem) Deleted() bool {
	return c.Properties.State == ItemStateDeleted
}

type Page struct {
	PageID       int64           `json:"pageID"`
	Name         string          `json:"name"`
	Path         string          `json:"path,omitempty"`
	Title        string          `json:"title"`
	MenuText     string          `json:"menuText,omitempty"`
	PageType     string          `json:"pageType,omitempty"`
	TemplateName string          `json:"templateName,omitempty"`
	Properties   ItemProperties  `json:"properties"`
	Zones        json.RawMessage `json:"zones,omitempty"`
	Seo          json.RawMessage `json:"seo,omitempty"`
}

func (p Page) Deleted() bool {
	return p.Properties.State == ItemStateDeleted
}

type SyncItemsResponse struct {
	SyncToken int64         `json:"syncToken"`
	Items     []ContentItem `json:"items"`
}

type SyncPagesResponse struct {
	SyncToken int64  `json:"syncToken"`
	Items     []Page `json:"items"`
}

type SitemapVisibility struct {
	Menu    bool `json:"menu"`
	Sitemap bool `json:"sitemap"`
}

type SitemapNode struct {
	Title     string            `json:"title"`
	Name      string            `json:"name"`
	PageID    int64             `json:"pageID"`
	MenuText  string            `json:"menuText"`
	Visible   SitemapVisibility `json:"visible"`
	Path      string            `json:"path"`
	Redirect  json.RawMessage   `json:"redirect,omitempty"`
	IsFolder  bool              `json:"isFolder"`
	ContentID int64             `json:"contentID,omitempty"`
}

// Sitemap is a flattened sitemap keyed by page path.
type Sitemap map[string]SitemapNode
