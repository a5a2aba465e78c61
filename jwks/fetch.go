package jwks

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/goccy/go-json"
)

// maxDocumentSize bounds the JWKS response body. JWKS documents are
// typically well under 10KB.
const maxDocumentSize = 1 << 20

// ErrFetchFailed wraps every failure to retrieve or decode an issuer's JWKS.
var ErrFetchFailed = errors.New("jwks fetch failed")

// KeySet maps a kid to the PEM encodings an issuer publishes for it.
// A fresh KeySet is built on every refresh and never mutated afterwards.
type KeySet map[string][]string

// Kids returns the number of distinct key identifiers in the set.
func (s KeySet) Kids() int { return len(s) }

// document is the wire shape of an issuer's JWKS: {"keys":[{"kid":..,"x5c":[..]}]}.
// Keys is a pointer so that a body without a "keys" member is told apart
// from a well-formed empty key list.
type document struct {
	Keys *[]documentKey `json:"keys"`
}

type documentKey struct {
	Kid string   `json:"kid"`
	X5c []string `json:"x5c"`
}

// fetchKeySet GETs a JWKS document and decodes it into a KeySet.
// Any non-2xx status, undecodable body, or entry without a kid is an error;
// an empty "keys" array is a valid, empty KeySet.
func fetchKeySet(ctx context.Context, client *http.Client, endpoint string) (KeySet, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create request: %w", ErrFetchFailed, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: request failed: %w", ErrFetchFailed, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: %s returned status %d", ErrFetchFailed, endpoint, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response body: %w", ErrFetchFailed, err)
	}

	return decodeKeySet(body)
}

func decodeKeySet(body []byte) (KeySet, error) {
	var doc document
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("%w: failed to parse JWKS: %w", ErrFetchFailed, err)
	}
	if doc.Keys == nil {
		return nil, fmt.Errorf("%w: JWKS document has no keys member", ErrFetchFailed)
	}

	set := make(KeySet, len(*doc.Keys))
	for i, key := range *doc.Keys {
		if key.Kid == "" {
			return nil, fmt.Errorf("%w: key at index %d has no kid", ErrFetchFailed, i)
		}
		if len(key.X5c) == 0 {
			return nil, fmt.Errorf("%w: key %q has no x5c certificates", ErrFetchFailed, key.Kid)
		}
		pems := set[key.Kid]
		for _, x5c := range key.X5c {
			pemText, err := X5cToPem(x5c)
			if err != nil {
				return nil, fmt.Errorf("%w: key %q: %w", ErrFetchFailed, key.Kid, err)
			}
			pems = append(pems, pemText)
		}
		set[key.Kid] = pems
	}

	return set, nil
}
