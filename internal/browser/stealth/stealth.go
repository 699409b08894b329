// Package stealth carries the JavaScript evasion bundle injected into every
// capture session before page scripts run.
package stealth

import (
	"context"
	_ "embed"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

//go:embed evasions.js
var evasionsJS string

// Script returns the evasion bundle.
func Script() string {
	return evasionsJS
}

// Apply returns an action that registers the evasion script to execute in
// every new document of the target, ahead of any page script.
func Apply(logger *zap.Logger) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		id, err := page.AddScriptToEvaluateOnNewDocument(evasionsJS).Do(ctx)
		if err != nil {
			return err
		}
		if logger != nil {
			logger.Debug("Stealth evasions registered", zap.String("script_id", string(id)))
		}
		return nil
	})
}
