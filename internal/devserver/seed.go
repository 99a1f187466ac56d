package devserver

import "fmt"

// DemoUsers is the fixture chatmock loads with --seed. Tokens equal
// "dev-" + id.
var DemoUsers = []User{
	{ID: "patient-1", Name: "Ana Souza", Kind: "patient", Token: "dev-patient-1"},
	{ID: "patient-2", Name: "Bruno Lima", Kind: "patient", Token: "dev-patient-2"},
	{ID: "clinic-1", Name: "Central Clinic", Kind: "facility", Token: "dev-clinic-1"},
	{ID: "lab-1", Name: "City Lab", Kind: "facility", Token: "dev-lab-1"},
	{ID: "dr-1", Name: "Dr. Carla Mendes", Kind: "professional", Token: "dev-dr-1"},
}

// Seed upserts users.
func (db *DB) Seed(users []User) error {
	for _, u := range users {
		if err := db.UpsertUser(u); err != nil {
			return fmt.Errorf("seed user %q: %w", u.ID, err)
		}
	}
	return nil
}
