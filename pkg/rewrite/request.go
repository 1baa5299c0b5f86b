package rewrite

import (
	"strconv"
	"strings"

	"github.com/matzehuels/postbuild/pkg/errors"
	"github.com/matzehuels/postbuild/pkg/variant"
)

// ParseRequest builds a validated request from the raw attribute values of
// an optimization node. Format tokens are comma-separated, trimmed and
// case-insensitive; duplicates collapse and empty tokens are ignored.
func ParseRequest(width, quality, formats string) (variant.Request, error) {
	w, err := strconv.Atoi(strings.TrimSpace(width))
	if err != nil {
		return variant.Request{}, errors.New(errors.ErrCodeInvalidWidth, "width %q is not an integer", width)
	}
	q, err := strconv.Atoi(strings.TrimSpace(quality))
	if err != nil {
		return variant.Request{}, errors.New(errors.ErrCodeInvalidQuality, "quality %q is not an integer", quality)
	}

	var list []string
	seen := map[string]bool{}
	for _, tok := range strings.Split(formats, ",") {
		f := strings.ToLower(strings.TrimSpace(tok))
		if f == "" || seen[f] {
			continue
		}
		seen[f] = true
		list = append(list, f)
	}

	req := variant.Request{Width: w, Quality: q, Formats: list}
	if err := req.Validate(); err != nil {
		return variant.Request{}, err
	}
	return req, nil
}
