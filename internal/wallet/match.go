package wallet

import (
	"bytes"
	"context"
	"errors"
	"sort"

	"github.com/OKaluzny/wallet-custody/pkg/models"
)

// MatchAccountKeys returns the non-revoked keys of acct that p can sign for,
// sorted by index. A curve the provider cannot serve simply matches nothing.
func MatchAccountKeys(ctx context.Context, p KeyProvider, acct *models.Account) ([]models.AccountKey, error) {
	pubs := make(map[models.SignAlgo][]byte, 2)
	var out []models.AccountKey

	for _, k := range acct.Keys {
		if k.Revoked {
			continue
		}
		pub, ok := pubs[k.SignAlgo]
		if !ok {
			var err error
			pub, err = p.PublicKey(ctx, k.SignAlgo)
			if err != nil && !errors.Is(err, ErrUnsupportedAlgorithm) {
				return nil, err
			}
			pubs[k.SignAlgo] = pub
		}
		if pub != nil && bytes.Equal(pub, k.PublicKey) {
			out = append(out, k)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}

// LocalIndices returns the indices of keys.
func LocalIndices(keys []models.AccountKey) []uint32 {
	out := make([]uint32, len(keys))
	for i, k := range keys {
		out[i] = k.Index
	}
	return out
}
