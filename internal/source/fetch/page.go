package fetch

import (
	"net/url"
	"strconv"
)

// Page is request-scoped paging state. Adapters thread it through one Search
// call instead of keeping a counter on the adapter.
type Page struct {
	Number int
	Size   int
}

// FirstPage returns page 1 with the given size.
func FirstPage(size int) Page {
	return Page{Number: 1, Size: size}
}

// Next returns the following page.
func (p Page) Next() Page {
	return Page{Number: p.Number + 1, Size: p.Size}
}

// Offset returns the zero-based index of the first item on the page.
func (p Page) Offset() int {
	if p.Number <= 1 {
		return 0
	}
	return (p.Number - 1) * p.Size
}

// Done reports whether a page that returned got items ends the listing.
func (p Page) Done(got, total int) bool {
	if got == 0 || got < p.Size {
		return true
	}
	return total > 0 && p.Offset()+got >= total
}

// Params returns v extended with the page parameters. Empty keys are skipped.
func (p Page) Params(v url.Values, numberKey, sizeKey string) url.Values {
	out := url.Values{}
	for k, vs := range v {
		out[k] = append([]string(nil), vs...)
	}
	if numberKey != "" {
		out.Set(numberKey, strconv.Itoa(p.Number))
	}
	if sizeKey != "" && p.Size > 0 {
		out.Set(sizeKey, strconv.Itoa(p.Size))
	}
	return out
}
