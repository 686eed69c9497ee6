// Package programs resolves the service programs an approved application is
// onboarded to.
package programs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"case-portal/internal/models"
	"case-portal/internal/store"

	"github.com/elastic/go-elasticsearch/v8"
)

var ErrProgramNotFound = errors.New("PROGRAM_NOT_FOUND")

type Catalog interface {
	Get(ctx context.Context, name string) (*models.Program, error)
	Put(ctx context.Context, program models.Program) error
}

// StoreCatalog reads Programs/<name> from the record store.
type StoreCatalog struct {
	store store.Store
}

func NewStoreCatalog(s store.Store) *StoreCatalog {
	return &StoreCatalog{store: s}
}

func (c *StoreCatalog) Get(ctx context.Context, name string) (*models.Program, error) {
	if name == "" {
		return nil, ErrProgramNotFound
	}
	doc, err := c.store.Get(ctx, models.CollectionPrograms, name)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrProgramNotFound, name)
	}
	if err != nil {
		return nil, err
	}

	var p models.Program
	if err := doc.Decode(&p); err != nil {
		return nil, err
	}
	p.Name = name
	return &p, nil
}

func (c *StoreCatalog) Put(ctx context.Context, program models.Program) error {
	return c.store.Set(ctx, models.CollectionPrograms, program.Name, program)
}

// SearchCatalog keeps programs in an Elasticsearch index, one document per
// program keyed by its name.
type SearchCatalog struct {
	client *elasticsearch.Client
	index  string
}

func NewSearchCatalog(client *elasticsearch.Client, index string) *SearchCatalog {
	if index == "" {
		index = "programs"
	}
	return &SearchCatalog{client: client, index: index}
}

type getResponse struct {
	Found  bool           `json:"found"`
	Source models.Program `json:"_source"`
}

func (c *SearchCatalog) Get(ctx context.Context, name string) (*models.Program, error) {
	if name == "" {
		return nil, ErrProgramNotFound
	}
	res, err := c.client.Get(c.index, name, c.client.Get.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("get program %s: %w", name, err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrProgramNotFound, name)
	}
	if res.IsError() {
		return nil, fmt.Errorf("get program %s: %s", name, res.String())
	}

	var body getResponse
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode program %s: %w", name, err)
	}
	if !body.Found {
		return nil, fmt.Errorf("%w: %s", ErrProgramNotFound, name)
	}
	body.Source.Name = name
	return &body.Source, nil
}

func (c *SearchCatalog) Put(ctx context.Context, program models.Program) error {
	raw, err := json.Marshal(program)
	if err != nil {
		return err
	}
	res, err := c.client.Index(c.index, bytes.NewReader(raw),
		c.client.Index.WithDocumentID(program.Name),
		c.client.Index.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("index program %s: %w", program.Name, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("index program %s: %s", program.Name, res.String())
	}
	return nil
}
