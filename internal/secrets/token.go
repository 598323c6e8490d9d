package secrets

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/lokerhq/loker/internal/awserr"
)

// pageToken is the opaque NextToken cursor: a page size and zero-based
// page index.
type pageToken struct {
	size  int64
	index int64
}

func parsePageToken(s string) (pageToken, error) {
	sizePart, indexPart, ok := strings.Cut(s, ":")
	if !ok {
		return pageToken{}, awserr.InvalidParameter("The NextToken provided is invalid.")
	}
	size, err := strconv.ParseInt(sizePart, 10, 64)
	if err != nil {
		return pageToken{}, awserr.InvalidParameter("The NextToken provided is invalid.")
	}
	index, err := strconv.ParseInt(indexPart, 10, 64)
	if err != nil || size <= 0 || index < 0 {
		return pageToken{}, awserr.InvalidParameter("The NextToken provided is invalid.")
	}
	return pageToken{size: size, index: index}, nil
}

func (t pageToken) String() string {
	return fmt.Sprintf("%d:%d", t.size, t.index)
}

func (t pageToken) offset() int64 {
	return t.size * t.index
}

// next returns the token for the following page, or nil when total rows
// fit within the pages consumed so far.
func (t pageToken) next(total int64) *string {
	if total <= (t.index+1)*t.size {
		return nil
	}
	s := pageToken{size: t.size, index: t.index + 1}.String()
	return &s
}
