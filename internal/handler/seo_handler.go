package handler

import (
	"encoding/xml"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go-wiki-collab/internal/middleware"
	"go-wiki-collab/internal/service"
)

// SEOHandler serves robots.txt and a sitemap built from the page list.
type SEOHandler struct {
	pages   service.PageServicer
	baseURL string
}

func NewSEOHandler(pages service.PageServicer, baseURL string) *SEOHandler {
	return &SEOHandler{pages: pages, baseURL: baseURL}
}

func (h *SEOHandler) Robots(w http.ResponseWriter, r *http.Request) *middleware.AppError {
	w.Header().Set("Content-Type", "text/plain")
	fmt.Fprintf(w, "User-agent: *\nDisallow: /edit/\nDisallow: /auth/\nDisallow: /pages/\n\nSitemap: %s/sitemap.xml\n", h.baseURL)
	return nil
}

type sitemapURL struct {
	Loc     string `xml:"loc"`
	LastMod string `xml:"lastmod"`
}

type sitemap struct {
	XMLName xml.Name     `xml:"urlset"`
	XMLNS   string       `xml:"xmlns,attr"`
	URLs    []sitemapURL `xml:"url"`
}

func (h *SEOHandler) Sitemap(w http.ResponseWriter, r *http.Request) *middleware.AppError {
	pages, err := h.pages.GetAllPages(r.Context())
	if err != nil {
		return &middleware.AppError{Error: err, Message: "Failed to build sitemap", Code: http.StatusInternalServerError}
	}

	sm := sitemap{XMLNS: "http://www.sitemaps.org/schemas/sitemap/0.9"}
	sm.URLs = append(sm.URLs, sitemapURL{Loc: h.baseURL + "/", LastMod: time.Now().UTC().Format("2006-01-02")})
	for _, p := range pages {
		sm.URLs = append(sm.URLs, sitemapURL{
			Loc:     h.baseURL + "/view/" + url.PathEscape(p.Title),
			LastMod: p.UpdatedAt.UTC().Format("2006-01-02"),
		})
	}

	w.Header().Set("Content-Type", "application/xml")
	w.Write([]byte(xml.Header))
	if err := xml.NewEncoder(w).Encode(sm); err != nil {
		return &middleware.AppError{Error: err, Message: "Failed to encode sitemap", Code: http.StatusInternalServerError}
	}
	return nil
}
