package memory

import (
	"context"
	"fmt"

	"github.com/MacJediWizard/roundledger/internal/models"
	"github.com/MacJediWizard/roundledger/internal/store"
	"github.com/google/uuid"
)

func (t *tx) CreateLicense(_ context.Context, l *models.License) error {
	if err := t.write("CreateLicense"); err != nil {
		return err
	}
	for _, existing := range t.st.licenses {
		if existing.LicenseToken == l.LicenseToken {
			return fmt.Errorf("create license: duplicate token")
		}
	}
	t.st.licenses[l.ID] = *l
	t.st.licenseOrder = append(t.st.licenseOrder, l.ID)
	return nil
}

func (t *tx) GetLicense(_ context.Context, id uuid.UUID) (*models.License, error) {
	l, ok := t.st.licenses[id]
	if !ok {
		return nil, notFound("license", id)
	}
	return &l, nil
}

func (t *tx) GetLicenseForUpdate(ctx context.Context, id uuid.UUID) (*models.License, error) {
	return t.GetLicense(ctx, id)
}

func (t *tx) UpdateLicense(_ context.Context, l *models.License) error {
	if err := t.write("UpdateLicense"); err != nil {
		return err
	}
	if _, ok := t.st.licenses[l.ID]; !ok {
		return notFound("license", l.ID)
	}
	t.st.licenses[l.ID] = *l
	return nil
}

func (t *tx) CountLicensesInRound(_ context.Context, productID uuid.UUID, round int) (int, error) {
	n := 0
	for _, l := range t.st.licenses {
		if l.ProductID == productID && l.PurchasedRound == round {
			n++
		}
	}
	return n, nil
}

func (t *tx) MarkRoundResaleEligible(_ context.Context, productID uuid.UUID, round int) (int64, error) {
	if err := t.write("MarkRoundResaleEligible"); err != nil {
		return 0, err
	}
	var n int64
	for id, l := range t.st.licenses {
		if l.ProductID != productID || l.PurchasedRound != round || l.ResaleEligible || !l.PurchaseType.PermitsResale() {
			continue
		}
		l.ResaleEligible = true
		t.st.licenses[id] = l
		n++
	}
	return n, nil
}

func (t *tx) ListLicensesByOwner(_ context.Context, ownerID uuid.UUID) ([]*models.License, error) {
	var out []*models.License
	for _, id := range t.st.licenseOrder {
		l := t.st.licenses[id]
		if l.OwnerID == ownerID {
			out = append(out, &l)
		}
	}
	return out, nil
}

func (t *tx) ListInsuredLicenses(_ context.Context, filter store.InsuredFilter) ([]*models.License, error) {
	var out []*models.License
	for _, id := range t.st.licenseOrder {
		l := t.st.licenses[id]
		if l.InsuranceDeadline == nil {
			continue
		}
		if filter.OwnerID != nil && l.OwnerID != *filter.OwnerID {
			continue
		}
		if filter.ProductID != nil && l.ProductID != *filter.ProductID {
			continue
		}
		out = append(out, &l)
	}
	return out, nil
}

func (t *tx) CreateLicenseTransfer(_ context.Context, lt *models.LicenseTransfer) error {
	if err := t.write("CreateLicenseTransfer"); err != nil {
		return err
	}
	t.st.transfers = append(t.st.transfers, *lt)
	return nil
}
