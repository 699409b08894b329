package worker

import (
	"bytes"
	"context"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/net/html/charset"

	"github.com/akhmedovh4mid/AntiDetectedMobileBrowser/internal/network"
)

// Detector compares how a page presents itself to a plain direct request
// versus through the regional proxy. Identical titles mean the target is
// serving its masking page to both views instead of the regional offer.
type Detector struct {
	client *network.Client
	logger *zap.Logger
}

func NewDetector(client *network.Client, logger *zap.Logger) *Detector {
	return &Detector{client: client, logger: logger.Named("cloak")}
}

// DirectTitle fetches the link without a proxy and extracts its <title>.
// The body is charset-decoded before parsing; plenty of ad landers still
// declare windows-1251.
func (d *Detector) DirectTitle(ctx context.Context, link string) (string, error) {
	body, contentType, err := d.client.FetchDocument(ctx, link)
	if err != nil {
		return "", err
	}

	var reader io.Reader
	reader, err = charset.NewReader(bytes.NewReader(body), contentType)
	if err != nil {
		d.logger.Debug("Charset detection failed, parsing raw bytes",
			zap.String("link", link),
			zap.Error(err),
		)
		reader = bytes.NewReader(body)
	}

	doc, err := goquery.NewDocumentFromReader(reader)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(doc.Find("title").First().Text()), nil
}

// TitlesMatch reports a cloak signal: both titles present and identical
// after trimming. Empty titles never match; a lander with no title at all
// proves nothing.
func TitlesMatch(direct, proxied string) bool {
	direct = strings.TrimSpace(direct)
	proxied = strings.TrimSpace(proxied)
	return direct != "" && direct == proxied
}
