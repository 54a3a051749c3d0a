package catalog

import (
	"context"
	"net/url"
	"strings"

	"github.com/lehigh-university-libraries/shelfscan/internal/models"
)

type volumesResponse struct {
	TotalItems int `json:"totalItems"`
	Items      []struct {
		ID         string `json:"id"`
		VolumeInfo struct {
			Title               string   `json:"title"`
			Authors             []string `json:"authors"`
			Publisher           string   `json:"publisher"`
			PublishedDate       string   `json:"publishedDate"`
			Description         string   `json:"description"`
			PageCount           int      `json:"pageCount"`
			Categories          []string `json:"categories"`
			AverageRating       float64  `json:"averageRating"`
			InfoLink            string   `json:"infoLink"`
			IndustryIdentifiers []struct {
				Type       string `json:"type"`
				Identifier string `json:"identifier"`
			} `json:"industryIdentifiers"`
			ImageLinks map[string]string `json:"imageLinks"`
		} `json:"volumeInfo"`
	} `json:"items"`
}

func (c *Client) googleBooks(ctx context.Context, q Query) (models.BookMetadata, error) {
	params := url.Values{
		"maxResults": {"1"},
		"printType":  {"books"},
	}
	if q.ISBN != "" {
		params["q"] = []string{"isbn:" + q.ISBN}
	} else {
		terms := "intitle:" + q.Title
		if q.Author != "" {
			terms += " inauthor:" + q.Author
		}
		params["q"] = []string{terms}
	}
	if c.googleKey != "" {
		params["key"] = []string{c.googleKey}
	}

	var resp volumesResponse
	if err := c.getJSON(ctx, query(c.googleBooksURL+"/volumes", params), &resp); err != nil {
		return models.BookMetadata{}, err
	}
	if len(resp.Items) == 0 {
		return models.BookMetadata{}, ErrNotFound
	}

	info := resp.Items[0].VolumeInfo
	md := models.BookMetadata{
		Description:   info.Description,
		Categories:    info.Categories,
		Publisher:     info.Publisher,
		PublishedDate: info.PublishedDate,
		PageCount:     info.PageCount,
		AverageRating: info.AverageRating,
		InfoURL:       info.InfoLink,
		Source:        "google_books",
	}
	for _, id := range info.IndustryIdentifiers {
		switch id.Type {
		case "ISBN_13":
			md.ISBN = id.Identifier
		case "ISBN_10":
			if md.ISBN == "" {
				md.ISBN = id.Identifier
			}
		}
	}
	for _, size := range []string{"thumbnail", "smallThumbnail"} {
		if link := info.ImageLinks[size]; link != "" {
			md.CoverURL = strings.Replace(link, "http://", "https://", 1)
			break
		}
	}
	return md, nil
}
