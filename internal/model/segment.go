package model

import (
	"encoding/json"
	"fmt"
	"strings"

	appErrors "github.com/unclebandit/campaign-mailer/internal/errors"
)

type SegmentKind string

const (
	SegmentCategory       SegmentKind = "category"
	SegmentAllSubscribers SegmentKind = "all_subscribers"
	SegmentAllUsers       SegmentKind = "all_users"
)

// Segment is the targeting rule of a campaign: Category(name), AllSubscribers or AllUsers.
// Build it with CategorySegment, AllSubscribers, AllUsers or ParseSegment.
type Segment struct {
	Kind     SegmentKind
	Category string
}

func CategorySegment(name string) Segment {
	return Segment{Kind: SegmentCategory, Category: name}
}

func AllSubscribers() Segment { return Segment{Kind: SegmentAllSubscribers} }

func AllUsers() Segment { return Segment{Kind: SegmentAllUsers} }

// Validate rejects kinds outside the closed set and categories without a name.
func (s Segment) Validate() error {
	switch s.Kind {
	case SegmentAllSubscribers, SegmentAllUsers:
		if s.Category != "" {
			return fmt.Errorf("%w: %s takes no category", appErrors.ErrUnknownSegment, s.Kind)
		}
		return nil
	case SegmentCategory:
		if strings.TrimSpace(s.Category) == "" {
			return fmt.Errorf("%w: category name is empty", appErrors.ErrUnknownSegment)
		}
		return nil
	}
	return fmt.Errorf("%w: %q", appErrors.ErrUnknownSegment, s.Kind)
}

// String renders the segment as "all_subscribers", "all_users" or "category:<name>".
func (s Segment) String() string {
	if s.Kind == SegmentCategory {
		return string(SegmentCategory) + ":" + s.Category
	}
	return string(s.Kind)
}

// ParseSegment is the inverse of String.
func ParseSegment(raw string) (Segment, error) {
	raw = strings.TrimSpace(raw)
	var seg Segment
	switch {
	case raw == string(SegmentAllSubscribers):
		seg = AllSubscribers()
	case raw == string(SegmentAllUsers):
		seg = AllUsers()
	case strings.HasPrefix(raw, string(SegmentCategory)+":"):
		seg = CategorySegment(strings.TrimPrefix(raw, string(SegmentCategory)+":"))
	default:
		return Segment{}, fmt.Errorf("%w: %q", appErrors.ErrUnknownSegment, raw)
	}
	if err := seg.Validate(); err != nil {
		return Segment{}, err
	}
	return seg, nil
}

func (s Segment) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Segment) UnmarshalJSON(b []byte) error {
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	seg, err := ParseSegment(raw)
	if err != nil {
		return err
	}
	*s = seg
	return nil
}
