package models

import "fmt"

// Instrument identifies a tradeable contract on an exchange. The
// symbol token is the broker's numeric identifier and is what the
// historical data endpoint keys on; the name is the human-readable
// trading symbol.
type Instrument struct {
	Name        string `json:"name"`
	Exchange    string `json:"exchange"`
	SymbolToken string `json:"symbol_token"`
}

// Validate checks that the instrument carries all identity fields.
func (i Instrument) Validate() error {
	if i.Name == "" {
		return ValidationError{Field: "name", Message: "name cannot be empty"}
	}
	if i.Exchange == "" {
		return ValidationError{Field: "exchange", Message: "exchange cannot be empty"}
	}
	if i.SymbolToken == "" {
		return ValidationError{Field: "symbol_token", Message: "symbol token cannot be empty"}
	}
	return nil
}

// String renders the instrument as NAME (EXCHANGE:TOKEN).
func (i Instrument) String() string {
	return fmt.Sprintf("%s (%s:%s)", i.Name, i.Exchange, i.SymbolToken)
}
