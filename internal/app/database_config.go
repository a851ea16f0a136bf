package app

import "github.com/v2fin/backoffice/internal/database"

// DatabaseOptions converts DatabaseConfig to the database package representation.
func (c DatabaseConfig) DatabaseOptions() database.Config {
	return database.Config{
		Driver:   c.Driver,
		Path:     c.Path,
		DSN:      c.DSN,
		Host:     c.Host,
		Port:     c.Port,
		Name:     c.Name,
		User:     c.Username,
		Password: c.Password,
	}
}

// AdminSeed converts BootstrapConfig to the database package representation.
func (c BootstrapConfig) AdminSeed() database.AdminSeed {
	return database.AdminSeed{
		Email:     c.Admin.Email,
		Password:  c.Admin.Password,
		FirstName: c.Admin.FirstName,
		LastName:  c.Admin.LastName,
	}
}
