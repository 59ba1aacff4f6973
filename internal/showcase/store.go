// Package showcase serves a small REST product store entirely from rewrite
// rules: no application handler is involved for the /store paths.
//
//	GET  /store/product/{pid}   product as XML, 404 when unknown
//	GET  /store/products        every product as XML
//	POST /store/products        XML product in, Location of the new product out
package showcase

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/tjfontaine/polyglot-rewrite/internal/core/domain"
	"github.com/tjfontaine/polyglot-rewrite/internal/core/ports"
	"github.com/tjfontaine/polyglot-rewrite/internal/rules"
	"github.com/tjfontaine/polyglot-rewrite/internal/storage"
)

// maxBody bounds the size of a posted product.
const maxBody = 64 << 10

type productXML struct {
	XMLName     xml.Name `xml:"product"`
	ID          int64    `xml:"id,attr,omitempty"`
	Name        string   `xml:"name"`
	Description string   `xml:"description,omitempty"`
	Price       float64  `xml:"price"`
}

type productsXML struct {
	XMLName  xml.Name     `xml:"products"`
	Products []productXML `xml:"product"`
}

func toXML(p storage.Product) productXML {
	return productXML{ID: p.ID, Name: p.Name, Description: p.Description, Price: p.Price}
}

// NewProvider returns the rule provider of the store. It only handles
// inbound rewrites.
func NewProvider(store storage.ProductStore, logger *slog.Logger) *rules.Provider {
	if logger == nil {
		logger = slog.Default()
	}
	s := &shop{store: store, logger: logger}

	product := rules.And(rules.Method(http.MethodGet), rules.Path("/store/product/{pid}"))

	cfg := rules.Begin().
		Define("product").
		When(product).When(ports.ConditionFunc(s.loadProduct)).
		Perform(rules.Chain(ports.OperationFunc(s.writeProduct), rules.Handled())).
		Define("product-not-found").
		When(product).
		Perform(rules.Chain(rules.SetStatus(http.StatusNotFound), rules.Handled())).
		Define("list-products").
		When(rules.And(rules.Method(http.MethodGet), rules.Path("/store/products"))).
		Perform(rules.Chain(ports.OperationFunc(s.writeProducts), rules.Handled())).
		Define("add-product").
		When(rules.And(rules.Method(http.MethodPost), rules.Path("/store/products"))).
		Perform(rules.Chain(ports.OperationFunc(s.addProduct), rules.Handled())).
		Build()

	return rules.NewProvider("showcase", 0, cfg, rules.HandlesOnly(func(rw ports.Rewrite) bool {
		return rw.Direction() == domain.Inbound
	}))
}

type shop struct {
	store  storage.ProductStore
	logger *slog.Logger
}

// loadProduct converts the pid binding into a stored product, bound as
// "product". Unknown or malformed ids do not match.
func (s *shop) loadProduct(ctx context.Context, rw ports.Rewrite) (bool, error) {
	id, err := strconv.ParseInt(rw.Bindings().String("pid"), 10, 64)
	if err != nil {
		return false, nil
	}
	p, err := s.store.Get(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	rw.Bindings().Put("product", p)
	return true, nil
}

func (s *shop) writeProduct(_ context.Context, rw ports.Rewrite) error {
	p, ok := rw.Bindings().Get("product").(storage.Product)
	if !ok {
		return fmt.Errorf("no product bound")
	}
	return writeXML(rw, http.StatusOK, toXML(p))
}

func (s *shop) writeProducts(ctx context.Context, rw ports.Rewrite) error {
	list, err := s.store.List(ctx)
	if err != nil {
		return err
	}
	out := productsXML{Products: make([]productXML, 0, len(list))}
	for _, p := range list {
		out.Products = append(out.Products, toXML(p))
	}
	return writeXML(rw, http.StatusOK, out)
}

func (s *shop) addProduct(ctx context.Context, rw ports.Rewrite) error {
	in, ok := rw.(ports.InboundRewrite)
	if !ok {
		return domain.NewIllegalState("add-product", "requires an inbound rewrite")
	}

	var body productXML
	if err := xml.NewDecoder(io.LimitReader(in.Request().Body, maxBody)).Decode(&body); err != nil {
		http.Error(in.Response(), "invalid product: "+err.Error(), http.StatusBadRequest)
		return nil
	}
	if body.Name == "" {
		http.Error(in.Response(), "invalid product: name is required", http.StatusBadRequest)
		return nil
	}

	p, err := s.store.Add(ctx, storage.Product{Name: body.Name, Description: body.Description, Price: body.Price})
	if err != nil {
		return err
	}
	s.logger.Info("product added", slog.Int64("id", p.ID), slog.String("transaction_id", rw.ID()))

	rw.Bindings().Put("pid", p.ID)
	in.Response().Header().Set("Location", rules.Expand("/store/product/{pid}", rw.Bindings()))
	return writeXML(rw, http.StatusCreated, toXML(p))
}

func writeXML(rw ports.Rewrite, status int, v any) error {
	in, ok := rw.(ports.InboundRewrite)
	if !ok {
		return domain.NewIllegalState("write-xml", "requires an inbound rewrite")
	}
	w := in.Response()
	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	w.WriteHeader(status)
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	return xml.NewEncoder(w).Encode(v)
}
