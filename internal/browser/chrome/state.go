package chrome

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"

	"github.com/aktagon/news-publisher/internal/browser"
)

const captureLocalStorageJS = `(() => ({
	origin: location.origin,
	items: Object.keys(localStorage).map(k => ({name: k, value: localStorage.getItem(k)}))
}))()`

type localStorageDump struct {
	Origin string              `json:"origin"`
	Items  []browser.NameValue `json:"items"`
}

func captureState(ctx context.Context) (*browser.StorageState, error) {
	cookies, err := storage.GetCookies().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading cookies: %w", err)
	}

	state := &browser.StorageState{
		Cookies: make([]browser.Cookie, 0, len(cookies)),
	}
	for _, c := range cookies {
		expires := c.Expires
		if c.Session {
			expires = -1
		}
		state.Cookies = append(state.Cookies, browser.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  expires,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
			SameSite: string(c.SameSite),
		})
	}

	var dump localStorageDump
	if err := chromedp.Evaluate(captureLocalStorageJS, &dump).Do(ctx); err != nil {
		return nil, fmt.Errorf("reading local storage: %w", err)
	}
	if dump.Origin != "" && dump.Origin != "null" && len(dump.Items) > 0 {
		state.Origins = append(state.Origins, browser.OriginStorage{
			Origin:       dump.Origin,
			LocalStorage: dump.Items,
		})
	}

	return state, nil
}

func restoreState(state *browser.StorageState) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		params := make([]*network.CookieParam, 0, len(state.Cookies))
		for _, c := range state.Cookies {
			p := &network.CookieParam{
				Name:     c.Name,
				Value:    c.Value,
				Domain:   c.Domain,
				Path:     c.Path,
				Secure:   c.Secure,
				HTTPOnly: c.HTTPOnly,
			}
			if c.Expires > 0 {
				t := cdp.TimeSinceEpoch(time.Unix(int64(c.Expires), 0))
				p.Expires = &t
			}
			if c.SameSite != "" {
				p.SameSite = network.CookieSameSite(c.SameSite)
			}
			params = append(params, p)
		}
		if len(params) > 0 {
			if err := network.SetCookies(params).Do(ctx); err != nil {
				return fmt.Errorf("restoring cookies: %w", err)
			}
		}

		for _, o := range state.Origins {
			if len(o.LocalStorage) == 0 {
				continue
			}
			items, err := json.Marshal(o.LocalStorage)
			if err != nil {
				return fmt.Errorf("encoding local storage for %s: %w", o.Origin, err)
			}
			js := fmt.Sprintf(`((items) => { for (const it of items) localStorage.setItem(it.name, it.value); return items.length; })(%s)`, items)

			var n int
			if err := chromedp.Navigate(o.Origin).Do(ctx); err != nil {
				return fmt.Errorf("opening %s: %w", o.Origin, err)
			}
			if err := chromedp.Evaluate(js, &n).Do(ctx); err != nil {
				return fmt.Errorf("restoring local storage for %s: %w", o.Origin, err)
			}
		}
		return nil
	})
}
