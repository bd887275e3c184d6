// Package repository persists tickets, orders, users and refresh tokens.
// Store is the transactional API the order manager and pruner run on;
// UserRepo and TokenRepo back the account endpoints.
package repository

import (
	"errors"

	"github.com/go-sql-driver/mysql"
)

// ErrPhoneExists is returned by UserRepo.Create when the phone number is
// already registered.
var ErrPhoneExists = errors.New("phone number already registered")

// ErrRefreshInvalid covers unknown, revoked and expired refresh tokens.
var ErrRefreshInvalid = errors.New("refresh token invalid")

const mysqlDuplicateEntry = 1062

// isDuplicateKey reports whether err is a MySQL unique-key violation.
func isDuplicateKey(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == mysqlDuplicateEntry
}
