package scanner

import (
	"context"
	"fmt"
	"strings"
	"sync"

	cdx "github.com/CycloneDX/cyclonedx-go"
	"github.com/zricethezav/gitleaks/v8/detect"
)

// Leaks finds hardcoded cryptographic material (keys, tokens, passwords)
// using gitleaks. Findings become related-crypto-material components next to
// the algorithm findings of the rule scanner.
type Leaks struct {
	pool sync.Pool
	mx   sync.Mutex
}

func NewLeaks() (*Leaks, error) {
	first, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("creating new gitleaks detector: %w", err)
	}
	l := &Leaks{}
	l.pool = sync.Pool{
		New: func() any {
			l.mx.Lock()
			defer l.mx.Unlock()
			detector, err := detect.NewDetectorDefaultConfig()
			if err != nil {
				panic(err)
			}
			return detector
		},
	}
	l.pool.Put(first)
	return l, nil
}

// Detect runs gitleaks over the file content. SAFE to be called from
// multiple goroutines.
func (l *Leaks) Detect(ctx context.Context, b []byte, path string) ([]cdx.Component, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	detector := l.pool.Get().(*detect.Detector)
	defer l.pool.Put(detector)

	var ret []cdx.Component
	for _, finding := range detector.DetectString(string(b)) {
		if finding.RuleID == "" {
			continue
		}
		line := finding.StartLine
		ret = append(ret, cdx.Component{
			BOMRef:      fmt.Sprintf("crypto/material/%s@%s:%d", finding.RuleID, path, line),
			Name:        finding.RuleID,
			Description: finding.Description,
			Type:        cdx.ComponentTypeCryptographicAsset,
			CryptoProperties: &cdx.CryptoProperties{
				AssetType: cdx.CryptoAssetTypeRelatedCryptoMaterial,
				RelatedCryptoMaterialProperties: &cdx.RelatedCryptoMaterialProperties{
					Type: materialType(finding.RuleID),
				},
			},
			Evidence: &cdx.Evidence{
				Occurrences: &[]cdx.EvidenceOccurrence{
					{
						Location: path,
						Line:     &line,
					},
				},
			},
		})
	}
	return ret, nil
}

func materialType(ruleID string) cdx.RelatedCryptoMaterialType {
	switch {
	case ruleID == "private-key":
		return cdx.RelatedCryptoMaterialTypePrivateKey
	case strings.Contains(ruleID, "jwt"), strings.Contains(ruleID, "token"):
		return cdx.RelatedCryptoMaterialTypeToken
	case strings.Contains(ruleID, "key"):
		return cdx.RelatedCryptoMaterialTypeKey
	case strings.Contains(ruleID, "password"):
		return cdx.RelatedCryptoMaterialTypePassword
	default:
		return cdx.RelatedCryptoMaterialTypeUnknown
	}
}
