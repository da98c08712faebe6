package probe

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/net/html"

	"github.com/andressep95/broker-auth-service/internal/domain"
)

// FrontendProbe loads the frontend entry page and checks that the markers the
// broker login flow depends on are present
type FrontendProbe struct {
	base
	url    string
	client *http.Client
	// RequiredIDs are element ids that must exist, e.g. the app mount point
	RequiredIDs []string
	// RequiredScripts are substrings that must match some script src
	RequiredScripts []string
}

func NewFrontendProbe(name, url string, client *http.Client, opts Options) *FrontendProbe {
	if client == nil {
		client = http.DefaultClient
	}
	return &FrontendProbe{
		base:   base{name: name, component: domain.ComponentFrontend, opts: opts.withDefaults()},
		url:    url,
		client: client,
	}
}

func (p *FrontendProbe) Run(ctx context.Context) domain.HealthCheckResult {
	return p.run(ctx, func(ctx context.Context) error {
		body, err := get(ctx, p.client, p.url, "text/html")
		if err != nil {
			return err
		}
		return p.validate(body)
	})
}

func (p *FrontendProbe) validate(body []byte) error {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return &domain.ValidationError{Message: fmt.Sprintf("unparseable html: %v", err)}
	}

	page := scan(doc)
	var missing []string
	if !page.hasContent {
		missing = append(missing, "page content")
	}
	for _, id := range p.RequiredIDs {
		if !page.ids[id] {
			missing = append(missing, "#"+id)
		}
	}
	for _, want := range p.RequiredScripts {
		found := false
		for _, src := range page.scripts {
			if strings.Contains(src, want) {
				found = true
				break
			}
		}
		if !found {
			missing = append(missing, "script "+want)
		}
	}
	if len(missing) > 0 {
		return &domain.ValidationError{Message: "missing " + strings.Join(missing, ", ")}
	}
	return nil
}

type pageMarkers struct {
	hasContent bool
	ids        map[string]bool
	scripts    []string
}

func scan(doc *html.Node) pageMarkers {
	page := pageMarkers{ids: make(map[string]bool)}
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			// the parser synthesizes html, head and body for any input
			switch n.Data {
			case "html", "head", "body":
			default:
				page.hasContent = true
			}
			for _, attr := range n.Attr {
				switch {
				case attr.Key == "id":
					page.ids[attr.Val] = true
				case n.Data == "script" && attr.Key == "src":
					page.scripts = append(page.scripts, attr.Val)
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return page
}
