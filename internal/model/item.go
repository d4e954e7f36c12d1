package model

import "strconv"

// Indexing property keys set on mounted page duplicates.
const (
	PropIsMountedPage        = "isMountedPage"
	PropMountPageSource      = "mountPageSource"
	PropMountPageDestination = "mountPageDestination"
	PropMountPointIdentifier = "mountPointIdentifier"
)

// Item is a queue row: one piece of content that needs (re)indexing.
type Item struct {
	ID                    int64             `json:"id"`
	RootPageID            int               `json:"root"`
	ItemType              string            `json:"itemType"`
	ItemUID               int               `json:"itemUid"`
	IndexingConfiguration string            `json:"indexingConfiguration"`
	Priority              int               `json:"priority"`
	Changed               int64             `json:"changed"`
	Indexed               int64             `json:"indexed"`
	Errors                string            `json:"errors,omitempty"`
	HasIndexingProperties bool              `json:"hasIndexingProperties"`
	Properties            map[string]string `json:"properties,omitempty"`
	ClaimedBy             string            `json:"-"`
	ClaimedUntil          int64             `json:"-"`
}

// Due reports whether the item must be picked up at time now.
func (i *Item) Due(now int64) bool {
	return i.Errors == "" && i.Changed > i.Indexed && i.Changed <= now
}

// Property returns an indexing property, empty when unset.
func (i *Item) Property(key string) string {
	if i.Properties == nil {
		return ""
	}
	return i.Properties[key]
}

// IsMountedPage reports whether the item is a mount point duplicate of a page
// living in another tree.
func (i *Item) IsMountedPage() bool {
	return i.ItemType == TablePages && i.Property(PropIsMountedPage) == "1"
}

// ItemFilter narrows queue operations. Zero fields match everything.
type ItemFilter struct {
	ID                    int64
	RootPageID            int
	ItemType              string
	ItemUID               int
	IndexingConfiguration string
	OnlyErrors            bool
}

// Statistics summarizes the queue for a site.
type Statistics struct {
	Total   int `json:"total"`
	Pending int `json:"pending"`
	Success int `json:"success"`
	Failed  int `json:"failed"`
}

// MountProperties describes how a page is mounted into another tree.
type MountProperties struct {
	Source      int // mount_pid of the mount page
	Destination int // uid of the mount page
}

// Identifier is the MP parameter value, "source-destination".
func (m MountProperties) Identifier() string {
	return strconv.Itoa(m.Source) + "-" + strconv.Itoa(m.Destination)
}

// Properties returns the indexing properties stored with a mounted item.
func (m MountProperties) Properties() map[string]string {
	return map[string]string{
		PropIsMountedPage:        "1",
		PropMountPageSource:      strconv.Itoa(m.Source),
		PropMountPageDestination: strconv.Itoa(m.Destination),
		PropMountPointIdentifier: m.Identifier(),
	}
}
