package domain

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strings"
)

// identityKeys are tried in order to find a natural key for a document.
var identityKeys = [][]string{
	{KeyRepoName},
	{KeyURL},
	{KeyCompany, KeyPosition, KeyFrom},
	{KeyInstitution, KeyDegree, KeyFrom},
	{KeyTitle},
	{KeyFilePath, KeyPage},
}

// DocID returns a stable identifier for d derived from its source, type and
// natural key. Documents without a natural key fall back to a content hash.
func DocID(d Document) string {
	md := d.Metadata
	prefix := md.String(KeySource) + "|" + md.String(KeyType)

	for _, keys := range identityKeys {
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			v, ok := md[k]
			if !ok || v == "" {
				break
			}
			parts = append(parts, fmt.Sprint(v))
		}
		if len(parts) == len(keys) {
			return prefix + "|" + strings.Join(parts, "|")
		}
	}

	sum := sha1.Sum([]byte(d.Content))
	return prefix + "|" + hex.EncodeToString(sum[:8])
}
