package mapping

import "strings"

// businesskey.go implements the three named recipes from SPEC_FULL.md §4.3
// (abstract Type A/B/C in spec.md §4.3). Each is a model.BusinessKeyRecipe
// function value — plain functions dispatched by the SheetType, not an
// interface hierarchy, per spec.md §9's "polymorphism without inheritance"
// design note.
//
// Missing components are substituted with empty strings; separator is
// underscore; case is preserved, exactly as spec.md §4.3 specifies.

// ContractDiscriminatorRecipe implements the Type A recipe: the key depends
// on which class the discriminator value falls into.
//
//	loanClass set  -> "{contract}_{discriminator}_{date}"
//	cardClass set  -> "{contract}_{discriminator}_{customer}"
//	otherwise      -> "{contract}_{discriminator}"
func ContractDiscriminatorRecipe(loanClass, cardClass map[string]bool) func(row map[string]string) string {
	return func(row map[string]string) string {
		discriminator := row["discriminator"]
		contract := row["contract"]
		switch {
		case loanClass[discriminator]:
			return join(contract, discriminator, row["date"])
		case cardClass[discriminator]:
			return join(contract, discriminator, row["customer"])
		default:
			return join(contract, discriminator)
		}
	}
}

// CustomerDateDiscriminatorRecipe implements the Type B recipe:
// "{customer}_{date}_{discriminator}".
func CustomerDateDiscriminatorRecipe(row map[string]string) string {
	return join(row["customer"], row["date"], row["discriminator"])
}

// OrgPartyMonthProductRecipe implements the Type C recipe:
// "{org}_{party}_{month}_{product}".
func OrgPartyMonthProductRecipe(row map[string]string) string {
	return join(row["org"], row["party"], row["month"], row["product"])
}

func join(parts ...string) string {
	return strings.Join(parts, "_")
}
