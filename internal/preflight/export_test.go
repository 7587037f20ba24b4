package preflight

import "context"

// SetListLanguages swaps the OCR language probe and returns a restore func.
func SetListLanguages(fn func(ctx context.Context) ([]byte, error)) func() {
	old := listLanguages
	listLanguages = fn
	return func() { listLanguages = old }
}
