package catalog

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/lehigh-university-libraries/shelfscan/internal/models"
)

type searchResponse struct {
	NumFound int `json:"numFound"`
	Docs     []struct {
		Key              string   `json:"key"`
		Title            string   `json:"title"`
		AuthorName       []string `json:"author_name"`
		ISBN             []string `json:"isbn"`
		Publisher        []string `json:"publisher"`
		FirstPublishYear int      `json:"first_publish_year"`
		NumberOfPages    int      `json:"number_of_pages_median"`
		Subject          []string `json:"subject"`
		CoverID          int      `json:"cover_i"`
		RatingsAverage   float64  `json:"ratings_average"`
	} `json:"docs"`
}

// Subjects on Open Library run into the hundreds.
const maxSubjects = 5

func (c *Client) openLibrary(ctx context.Context, q Query) (models.BookMetadata, error) {
	params := url.Values{
		"limit":  {"1"},
		"fields": {"key,title,author_name,isbn,publisher,first_publish_year,number_of_pages_median,subject,cover_i,ratings_average"},
	}
	if q.ISBN != "" {
		params["isbn"] = []string{q.ISBN}
	} else {
		params["title"] = []string{q.Title}
		if q.Author != "" {
			params["author"] = []string{q.Author}
		}
	}

	var resp searchResponse
	if err := c.getJSON(ctx, query(c.openLibraryURL+"/search.json", params), &resp); err != nil {
		return models.BookMetadata{}, err
	}
	if len(resp.Docs) == 0 {
		return models.BookMetadata{}, ErrNotFound
	}

	doc := resp.Docs[0]
	md := models.BookMetadata{
		PageCount:     doc.NumberOfPages,
		AverageRating: doc.RatingsAverage,
		Source:        "open_library",
	}
	if q.ISBN != "" {
		md.ISBN = q.ISBN
	} else if len(doc.ISBN) > 0 {
		md.ISBN = doc.ISBN[0]
	}
	if len(doc.Publisher) > 0 {
		md.Publisher = doc.Publisher[0]
	}
	if doc.FirstPublishYear > 0 {
		md.PublishedDate = strconv.Itoa(doc.FirstPublishYear)
	}
	if len(doc.Subject) > maxSubjects {
		doc.Subject = doc.Subject[:maxSubjects]
	}
	md.Categories = doc.Subject
	if doc.CoverID > 0 {
		md.CoverURL = fmt.Sprintf("https://covers.openlibrary.org/b/id/%d-M.jpg", doc.CoverID)
	}
	if doc.Key != "" {
		md.InfoURL = c.openLibraryURL + doc.Key
	}
	return md, nil
}
