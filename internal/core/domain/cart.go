package domain

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

const MaxCartLines = 100

type CartLine struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

// Cart lives client-side in a cookie, keyed by the session id.
type Cart struct {
	Lines []CartLine `json:"lines"`
}

func (c Cart) Empty() bool {
	return len(c.Lines) == 0
}

// Normalize merges duplicate products, drops non-positive quantities and
// keeps first-seen order.
func (c Cart) Normalize() Cart {
	index := make(map[string]int, len(c.Lines))
	out := make([]CartLine, 0, len(c.Lines))
	for _, l := range c.Lines {
		if l.ProductID == "" || l.Quantity <= 0 {
			continue
		}
		if i, ok := index[l.ProductID]; ok {
			out[i].Quantity += l.Quantity
			continue
		}
		if len(out) == MaxCartLines {
			continue
		}
		index[l.ProductID] = len(out)
		out = append(out, l)
	}
	return Cart{Lines: out}
}

func (c Cart) Add(productID string, quantity int) Cart {
	lines := append(append([]CartLine{}, c.Lines...), CartLine{ProductID: productID, Quantity: quantity})
	return Cart{Lines: lines}.Normalize()
}

// Set replaces the quantity of a product; zero or less removes it.
func (c Cart) Set(productID string, quantity int) Cart {
	out := make([]CartLine, 0, len(c.Lines)+1)
	found := false
	for _, l := range c.Lines {
		if l.ProductID == productID {
			found = true
			l.Quantity = quantity
		}
		out = append(out, l)
	}
	if !found {
		out = append(out, CartLine{ProductID: productID, Quantity: quantity})
	}
	return Cart{Lines: out}.Normalize()
}

func (c Cart) Remove(productID string) Cart {
	return c.Set(productID, 0)
}

func (c Cart) Encode() (string, error) {
	raw, err := json.Marshal(c.Normalize())
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

func DecodeCart(value string) (Cart, error) {
	if value == "" {
		return Cart{}, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(value)
	if err != nil {
		return Cart{}, fmt.Errorf("decode cart cookie: %w", err)
	}
	var c Cart
	if err := json.Unmarshal(raw, &c); err != nil {
		return Cart{}, fmt.Errorf("parse cart cookie: %w", err)
	}
	return c.Normalize(), nil
}
