package discover

import (
	"context"

	"github.com/probelab/scrutiny/browser"
)

// Session drives a browser for one discovery job. The production
// implementation is RodSession; tests substitute fakes.
type Session interface {
	Visit(ctx context.Context, url string) (Page, error)
}

// Page is one rendered page.
type Page interface {
	Text(ctx context.Context) (string, error)
	Links(ctx context.Context) ([]string, error)
	Screenshot(ctx context.Context) ([]byte, error)
	Close() error
}

// RodSession adapts the browser manager to the Session contract.
type RodSession struct {
	Manager *browser.Manager
}

func (s *RodSession) Visit(ctx context.Context, url string) (Page, error) {
	tab, err := s.Manager.OpenTab(ctx, url)
	if err != nil {
		return nil, err
	}
	return &rodPage{tab: tab}, nil
}

type rodPage struct {
	tab *browser.Tab
}

func (p *rodPage) Text(ctx context.Context) (string, error) {
	return p.tab.VisibleText(ctx)
}

func (p *rodPage) Links(ctx context.Context) ([]string, error) {
	return p.tab.Links(ctx)
}

func (p *rodPage) Screenshot(ctx context.Context) ([]byte, error) {
	return p.tab.Screenshot(ctx)
}

func (p *rodPage) Close() error {
	return p.tab.Close()
}
