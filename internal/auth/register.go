package auth

import dbpkg "github.com/mohacollection/storefront-backend/pkg/db"

// isUniqueViolation catches the race where two registrations pass the email
// lookup concurrently.
func isUniqueViolation(err error) bool {
	return dbpkg.IsUniqueViolation(err, "ux_users_email")
}
