package memory

import (
	"context"
	"fmt"
	"slices"

	"github.com/MacJediWizard/roundledger/internal/models"
	"github.com/google/uuid"
)

func (t *tx) CreatePlatformProduct(_ context.Context, pp *models.PlatformProduct) error {
	if err := t.write("CreatePlatformProduct"); err != nil {
		return err
	}
	t.st.platform[pp.ID] = *pp
	t.st.platformOrder = append(t.st.platformOrder, pp.ID)
	return nil
}

func (t *tx) GetPlatformProductForUpdate(_ context.Context, id uuid.UUID) (*models.PlatformProduct, error) {
	pp, ok := t.st.platform[id]
	if !ok {
		return nil, notFound("platform product", id)
	}
	return &pp, nil
}

func (t *tx) UpdatePlatformProductInventory(_ context.Context, pp *models.PlatformProduct) error {
	if err := t.write("UpdatePlatformProductInventory"); err != nil {
		return err
	}
	cur, ok := t.st.platform[pp.ID]
	if !ok {
		return notFound("platform product", pp.ID)
	}
	if pp.AvailableLicenses < 0 {
		return fmt.Errorf("update platform product: negative inventory")
	}
	cur.AvailableLicenses = pp.AvailableLicenses
	cur.IsActive = pp.IsActive
	cur.UpdatedAt = pp.UpdatedAt
	t.st.platform[pp.ID] = cur
	return nil
}

func (t *tx) ListPlatformProducts(_ context.Context) ([]*models.PlatformProduct, error) {
	out := make([]*models.PlatformProduct, 0, len(t.st.platformOrder))
	for _, id := range t.st.platformOrder {
		pp := t.st.platform[id]
		out = append(out, &pp)
	}
	return out, nil
}

func (t *tx) CreateRoyaltyClaim(_ context.Context, c *models.RoyaltyClaim) error {
	if err := t.write("CreateRoyaltyClaim"); err != nil {
		return err
	}
	if c.Status.Active() {
		for _, existing := range t.st.claims {
			if existing.ExitLicenseID == c.ExitLicenseID && existing.Status.Active() {
				return models.ErrAlreadyClaimed
			}
		}
	}
	t.st.claims[c.ID] = *c
	t.st.claimOrder = append(t.st.claimOrder, c.ID)
	return nil
}

func (t *tx) UpdateRoyaltyClaim(_ context.Context, c *models.RoyaltyClaim) error {
	if err := t.write("UpdateRoyaltyClaim"); err != nil {
		return err
	}
	if _, ok := t.st.claims[c.ID]; !ok {
		return notFound("royalty claim", c.ID)
	}
	t.st.claims[c.ID] = *c
	return nil
}

func (t *tx) GetRoyaltyClaimForUpdate(_ context.Context, id uuid.UUID) (*models.RoyaltyClaim, error) {
	c, ok := t.st.claims[id]
	if !ok {
		return nil, notFound("royalty claim", id)
	}
	return &c, nil
}

func (t *tx) GetActiveClaimForLicense(_ context.Context, licenseID uuid.UUID) (*models.RoyaltyClaim, error) {
	for _, id := range t.st.claimOrder {
		c := t.st.claims[id]
		if c.ExitLicenseID == licenseID && c.Status.Active() {
			return &c, nil
		}
	}
	return nil, nil
}

func (t *tx) CountPendingClaimsForProduct(_ context.Context, productID uuid.UUID) (int, error) {
	n := 0
	for _, c := range t.st.claims {
		if c.Status != models.RoyaltyClaimPending {
			continue
		}
		if l, ok := t.st.licenses[c.ExitLicenseID]; ok && l.ProductID == productID {
			n++
		}
	}
	return n, nil
}

func (t *tx) ListRoyaltyClaimsByUser(_ context.Context, userID uuid.UUID, limit, offset int) ([]*models.RoyaltyClaim, int, error) {
	var all []*models.RoyaltyClaim
	for _, id := range slices.Backward(t.st.claimOrder) {
		c := t.st.claims[id]
		if c.UserID == userID {
			all = append(all, &c)
		}
	}
	return page(all, limit, offset), len(all), nil
}

func (t *tx) CreateRoyaltyLicense(_ context.Context, rl *models.RoyaltyLicense) error {
	if err := t.write("CreateRoyaltyLicense"); err != nil {
		return err
	}
	t.st.royaltyLicenses = append(t.st.royaltyLicenses, *rl)
	return nil
}

func (t *tx) ListRoyaltyLicensesByUser(_ context.Context, userID uuid.UUID, limit, offset int) ([]*models.RoyaltyLicense, int, error) {
	var all []*models.RoyaltyLicense
	for _, rl := range slices.Backward(t.st.royaltyLicenses) {
		if rl.UserID == userID {
			rl := rl
			all = append(all, &rl)
		}
	}
	return page(all, limit, offset), len(all), nil
}
