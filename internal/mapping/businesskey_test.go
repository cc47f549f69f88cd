package mapping

import "testing"

func TestContractDiscriminatorRecipe(t *testing.T) {
	loan := map[string]bool{"LOAN": true}
	card := map[string]bool{"CARD": true}
	recipe := ContractDiscriminatorRecipe(loan, card)

	cases := []struct {
		name string
		row  map[string]string
		want string
	}{
		{
			"loan class uses date",
			map[string]string{"contract": "C1", "discriminator": "LOAN", "date": "2024-01-02", "customer": "CUST1"},
			"C1_LOAN_2024-01-02",
		},
		{
			"card class uses customer",
			map[string]string{"contract": "C1", "discriminator": "CARD", "date": "2024-01-02", "customer": "CUST1"},
			"C1_CARD_CUST1",
		},
		{
			"unknown discriminator falls back",
			map[string]string{"contract": "C1", "discriminator": "OTHER"},
			"C1_OTHER",
		},
		{
			"missing fields substitute empty strings",
			map[string]string{"discriminator": "LOAN"},
			"_LOAN_",
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := recipe(c.row); got != c.want {
				t.Errorf("recipe(%v) = %q, want %q", c.row, got, c.want)
			}
		})
	}
}

func TestCustomerDateDiscriminatorRecipe(t *testing.T) {
	row := map[string]string{"customer": "CUST1", "date": "2024-01-02", "discriminator": "X"}
	want := "CUST1_2024-01-02_X"
	if got := CustomerDateDiscriminatorRecipe(row); got != want {
		t.Errorf("CustomerDateDiscriminatorRecipe(%v) = %q, want %q", row, got, want)
	}
}

func TestOrgPartyMonthProductRecipe(t *testing.T) {
	row := map[string]string{"org": "ORG1", "party": "PARTY1", "month": "2024-01", "product": "PRODUCT1"}
	want := "ORG1_PARTY1_2024-01_PRODUCT1"
	if got := OrgPartyMonthProductRecipe(row); got != want {
		t.Errorf("OrgPartyMonthProductRecipe(%v) = %q, want %q", row, got, want)
	}
}
