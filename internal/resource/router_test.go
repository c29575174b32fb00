package resource

import (
	"testing"

	"github.com/hitoshi/crmadmin/internal/model"
)

func TestDefault_ResolvesAllResources(t *testing.T) {
	r := Default("crm", Collections{
		Contacts:  "col-contacts",
		Companies: "col-companies",
		Customers: "col-customers",
		Orders:    "col-orders",
	})

	tests := []struct {
		name        string
		collection  string
		uniqueEmail bool
	}{
		{Contacts, "col-contacts", true},
		{Companies, "col-companies", false},
		{Customers, "col-customers", false},
		{Orders, "col-orders", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := r.Resolve(tt.name)
			if err != nil {
				t.Fatalf("Resolve(%q) error: %v", tt.name, err)
			}
			if d.DatabaseID != "crm" {
				t.Errorf("DatabaseID = %q, want crm", d.DatabaseID)
			}
			if d.CollectionID != tt.collection {
				t.Errorf("CollectionID = %q, want %q", d.CollectionID, tt.collection)
			}
			if d.UniqueEmail != tt.uniqueEmail {
				t.Errorf("UniqueEmail = %v, want %v", d.UniqueEmail, tt.uniqueEmail)
			}
		})
	}
}

func TestResolve_UnknownResource(t *testing.T) {
	r := Default("crm", Collections{Contacts: "c"})

	_, err := r.Resolve("invoices")
	if model.ErrorCode(err) != model.ErrCodeUnknownResource {
		t.Errorf("error code = %q, want %q", model.ErrorCode(err), model.ErrCodeUnknownResource)
	}
}

func TestResolve_MissingCollection(t *testing.T) {
	r := Default("crm", Collections{Contacts: "c"})

	_, err := r.Resolve(Orders)
	if model.ErrorCode(err) != model.ErrCodeResourceNotConfigured {
		t.Errorf("error code = %q, want %q", model.ErrorCode(err), model.ErrCodeResourceNotConfigured)
	}
}

func TestNames_Sorted(t *testing.T) {
	r := Default("crm", Collections{})
	got := r.Names()
	want := []string{Companies, Contacts, Customers, Orders}
	if len(got) != len(want) {
		t.Fatalf("Names() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Names()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
