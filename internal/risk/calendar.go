package risk

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"executor-core/internal/filters"
)

// CalendarEvent is one scheduled economic event.
type CalendarEvent struct {
	Title    string    `json:"title"`
	Currency string    `json:"currency"`
	Impact   string    `json:"impact"` // high/medium/low
	Time     time.Time `json:"time"`
}

// Calendar caches scheduled events and answers blackout queries. Events come
// either from an HTTP calendar feed or are pushed via the control plane.
type Calendar struct {
	FeedURL string
	TTL     time.Duration

	mu      sync.RWMutex
	events  []CalendarEvent
	expires time.Time
	client  *http.Client
}

func NewCalendar(feedURL string) *Calendar {
	return &Calendar{
		FeedURL: feedURL,
		TTL:     30 * time.Minute,
		client:  &http.Client{Timeout: 5 * time.Second},
	}
}

// SetEvents replaces the cached events; used by the control plane and tests.
func (c *Calendar) SetEvents(events []CalendarEvent) {
	c.mu.Lock()
	c.events = events
	c.expires = time.Now().Add(c.TTL)
	c.mu.Unlock()
}

// InBlackout reports whether now falls inside the configured window around
// any event affecting one of the symbol's currencies.
func (c *Calendar) InBlackout(ctx context.Context, symbol string, now time.Time, beforeMin, afterMin int, highOnly bool) (bool, string) {
	currencies := symbolCurrencies(symbol)
	if len(currencies) == 0 {
		return false, ""
	}

	windowStart := now.Add(-time.Duration(afterMin) * time.Minute)
	windowEnd := now.Add(time.Duration(beforeMin) * time.Minute)

	for _, ev := range c.load(ctx) {
		if highOnly && !isHighImpact(ev.Impact) {
			continue
		}
		if ev.Currency != "" && !containsCurrency(currencies, ev.Currency) {
			continue
		}
		if !ev.Time.Before(windowStart) && !ev.Time.After(windowEnd) {
			return true, ev.Title
		}
	}
	return false, ""
}

func (c *Calendar) load(ctx context.Context) []CalendarEvent {
	c.mu.RLock()
	if time.Now().Before(c.expires) || c.FeedURL == "" {
		events := c.events
		c.mu.RUnlock()
		return events
	}
	c.mu.RUnlock()

	events, err := c.fetch(ctx)
	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		log.Printf("risk: calendar feed unavailable: %v", err)
		// keep serving stale events instead of dropping the check
		c.expires = time.Now().Add(5 * time.Minute)
		return c.events
	}
	c.events = events
	c.expires = time.Now().Add(c.TTL)
	return c.events
}

func (c *Calendar) fetch(ctx context.Context) ([]CalendarEvent, error) {
	now := time.Now().UTC()
	q := url.Values{}
	q.Set("from", now.Format(time.RFC3339))
	q.Set("to", now.Add(72*time.Hour).Format(time.RFC3339))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.FeedURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("calendar feed returned %d", resp.StatusCode)
	}

	var raw []struct {
		Title    string `json:"title"`
		Currency string `json:"currency"`
		Impact   string `json:"impact"`
		Time     string `json:"time"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, err
	}

	events := make([]CalendarEvent, 0, len(raw))
	for _, r := range raw {
		ts, err := time.Parse(time.RFC3339, r.Time)
		if err != nil {
			continue
		}
		events = append(events, CalendarEvent{Title: r.Title, Currency: strings.ToUpper(r.Currency), Impact: r.Impact, Time: ts})
	}
	return events, nil
}

func containsCurrency(currencies []string, c string) bool {
	c = strings.ToUpper(c)
	for _, cur := range currencies {
		if cur == c {
			return true
		}
	}
	return false
}

func isHighImpact(impact string) bool {
	switch strings.ToLower(impact) {
	case "high", "red":
		return true
	}
	return false
}

func symbolCurrencies(symbol string) []string {
	s := strings.ToUpper(symbol)
	if i := strings.IndexAny(s, "._-"); i > 0 {
		s = s[:i]
	}
	if len(s) == 6 {
		return []string{s[:3], s[3:]}
	}
	if base := filters.BaseCurrency(symbol); base != "" {
		return []string{base}
	}
	return nil
}
