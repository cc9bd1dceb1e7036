package memoria

import "context"

// Refiner rewrites a raw transcript into polished narrative text.
//
// Refine never fails outward: on any problem it returns the input unchanged.
type Refiner interface {
	Refine(ctx context.Context, text string) string
}
