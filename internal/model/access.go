package model

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

const (
	accessSeparator   = "/"
	contentElementKey = "c"
)

// AccessElement is one level of an access rootline: the groups required by a
// page, or by the content of the resource when Content is set.
type AccessElement struct {
	PageID  int
	Groups  []int
	Content bool
}

func (e AccessElement) String() string {
	key := contentElementKey
	if !e.Content {
		key = strconv.Itoa(e.PageID)
	}
	return key + ":" + JoinInts(e.Groups)
}

// AccessRootline is the chain of frontend group restrictions that must be
// satisfied level by level to see a resource. At most one content element
// exists and it is always last.
type AccessRootline []AccessElement

func (a AccessRootline) String() string {
	parts := make([]string, len(a))
	for i, e := range a {
		parts[i] = e.String()
	}
	return strings.Join(parts, accessSeparator)
}

// AddPage appends a page element. Pages without groups are not recorded.
func (a AccessRootline) AddPage(pageID int, groups []int) AccessRootline {
	groups = normalizeGroups(groups)
	if len(groups) == 0 {
		return a
	}
	out := a.withoutContent()
	out = append(out, AccessElement{PageID: pageID, Groups: groups})
	if c, ok := a.content(); ok {
		out = append(out, c)
	}
	return out
}

// WithContentGroups returns a copy whose trailing content element holds groups.
func (a AccessRootline) WithContentGroups(groups ...int) AccessRootline {
	out := a.withoutContent()
	return append(out, AccessElement{Content: true, Groups: normalizeGroups(groups)})
}

// ContentGroups returns the groups of the content element, nil without one.
func (a AccessRootline) ContentGroups() []int {
	if c, ok := a.content(); ok {
		return c.Groups
	}
	return nil
}

// PageElements returns the rootline without its content element.
func (a AccessRootline) PageElements() AccessRootline {
	return a.withoutContent()
}

func (a AccessRootline) content() (AccessElement, bool) {
	if len(a) > 0 && a[len(a)-1].Content {
		return a[len(a)-1], true
	}
	return AccessElement{}, false
}

func (a AccessRootline) withoutContent() AccessRootline {
	out := make(AccessRootline, 0, len(a)+1)
	for _, e := range a {
		if !e.Content {
			out = append(out, e)
		}
	}
	return out
}

// ParseAccessRootline decodes "12:1,2/c:0".
func ParseAccessRootline(s string) (AccessRootline, error) {
	var out AccessRootline
	if strings.TrimSpace(s) == "" {
		return out, nil
	}
	for i, part := range strings.Split(s, accessSeparator) {
		key, groups, ok := strings.Cut(part, ":")
		if !ok {
			return nil, fmt.Errorf("access element %q: missing ':'", part)
		}
		if key == contentElementKey {
			if i != len(strings.Split(s, accessSeparator))-1 {
				return nil, fmt.Errorf("access rootline %q: content element must be last", s)
			}
			out = append(out, AccessElement{Content: true, Groups: normalizeGroups(ParseIntList(groups))})
			continue
		}
		pageID, err := strconv.Atoi(key)
		if err != nil {
			return nil, fmt.Errorf("access element %q: %w", part, err)
		}
		out = append(out, AccessElement{PageID: pageID, Groups: normalizeGroups(ParseIntList(groups))})
	}
	return out, nil
}

func normalizeGroups(groups []int) []int {
	if len(groups) == 0 {
		return nil
	}
	seen := make(map[int]bool, len(groups))
	out := make([]int, 0, len(groups))
	for _, g := range groups {
		if seen[g] {
			continue
		}
		seen[g] = true
		out = append(out, g)
	}
	sort.Ints(out)
	return out
}
