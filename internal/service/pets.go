package service

import (
	"context"
	"strings"

	"github.com/maspatas/maspatas-bfa-go/internal/domain"

	"github.com/google/uuid"
)

// ============================================================
// Owned-pet and saved-pet list mutators
// ============================================================

// mutateProfile reads the visible user's row, lets fn compute the columns
// to write, patches them and republishes the user. fn returning nil columns
// means nothing changed.
func (c *SessionController) mutateProfile(ctx context.Context, fn func(p *domain.Profile) (map[string]any, error)) (*domain.User, error) {
	if err := c.lockLive(); err != nil {
		return nil, err
	}
	defer c.opMu.Unlock()

	current := c.state.Snapshot().CurrentUser
	if current == nil {
		return nil, &domain.ErrUnauthorized{Message: "no signed-in user"}
	}

	p, err := c.profiles.GetProfile(ctx, current.ID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, &domain.ErrNotFound{Resource: "profile", ID: current.ID}
	}

	cols, err := fn(p)
	if err != nil {
		return nil, err
	}
	if cols == nil {
		return current, nil
	}

	updated, err := c.profiles.UpdateProfile(ctx, current.ID, cols)
	if err != nil {
		return nil, err
	}
	u := domain.UserFromProfile(updated, current.Email)
	c.publishVisibleLocked(ctx, u)
	return u, nil
}

func findPet(pets []domain.OwnedPet, petID string) int {
	for i := range pets {
		if pets[i].ID == petID {
			return i
		}
	}
	return -1
}

// AddOwnedPet appends pet, generating an id when none is given.
func (c *SessionController) AddOwnedPet(ctx context.Context, pet domain.OwnedPet) (*domain.User, error) {
	if strings.TrimSpace(pet.Name) == "" {
		return nil, &domain.ErrValidation{Field: "name", Message: "pet name is required"}
	}
	if pet.ID == "" {
		pet.ID = uuid.NewString()
	}

	return c.mutateProfile(ctx, func(p *domain.Profile) (map[string]any, error) {
		if findPet(p.OwnedPets, pet.ID) >= 0 {
			return nil, &domain.ErrConflict{Message: "pet already registered: " + pet.ID}
		}
		pets := append(append([]domain.OwnedPet{}, p.OwnedPets...), pet)
		return map[string]any{"owned_pets": pets}, nil
	})
}

// UpdateOwnedPet replaces the pet with id petID.
func (c *SessionController) UpdateOwnedPet(ctx context.Context, petID string, pet domain.OwnedPet) (*domain.User, error) {
	if strings.TrimSpace(pet.Name) == "" {
		return nil, &domain.ErrValidation{Field: "name", Message: "pet name is required"}
	}
	pet.ID = petID

	return c.mutateProfile(ctx, func(p *domain.Profile) (map[string]any, error) {
		i := findPet(p.OwnedPets, petID)
		if i < 0 {
			return nil, &domain.ErrNotFound{Resource: "pet", ID: petID}
		}
		pets := append([]domain.OwnedPet{}, p.OwnedPets...)
		pets[i] = pet
		return map[string]any{"owned_pets": pets}, nil
	})
}

// RemoveOwnedPet deletes the pet with id petID.
func (c *SessionController) RemoveOwnedPet(ctx context.Context, petID string) (*domain.User, error) {
	return c.mutateProfile(ctx, func(p *domain.Profile) (map[string]any, error) {
		i := findPet(p.OwnedPets, petID)
		if i < 0 {
			return nil, &domain.ErrNotFound{Resource: "pet", ID: petID}
		}
		pets := make([]domain.OwnedPet, 0, len(p.OwnedPets)-1)
		pets = append(pets, p.OwnedPets[:i]...)
		pets = append(pets, p.OwnedPets[i+1:]...)
		return map[string]any{"owned_pets": pets}, nil
	})
}

// SavePet bookmarks a pet report. Saving twice is a no-op.
func (c *SessionController) SavePet(ctx context.Context, petID string) (*domain.User, error) {
	if petID == "" {
		return nil, &domain.ErrValidation{Field: "petId", Message: "pet id is required"}
	}
	return c.mutateProfile(ctx, func(p *domain.Profile) (map[string]any, error) {
		for _, id := range p.SavedPetIDs {
			if id == petID {
				return nil, nil
			}
		}
		ids := append(append([]string{}, p.SavedPetIDs...), petID)
		return map[string]any{"saved_pet_ids": ids}, nil
	})
}

// UnsavePet removes a bookmark. Removing a missing one is a no-op.
func (c *SessionController) UnsavePet(ctx context.Context, petID string) (*domain.User, error) {
	return c.mutateProfile(ctx, func(p *domain.Profile) (map[string]any, error) {
		ids := make([]string, 0, len(p.SavedPetIDs))
		for _, id := range p.SavedPetIDs {
			if id != petID {
				ids = append(ids, id)
			}
		}
		if len(ids) == len(p.SavedPetIDs) {
			return nil, nil
		}
		return map[string]any{"saved_pet_ids": ids}, nil
	})
}
