package database

import (
	"context"
	"database/sql"
	"fmt"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id              BIGINT UNSIGNED NOT NULL AUTO_INCREMENT PRIMARY KEY,
		name            VARCHAR(120) NOT NULL,
		phone_number    VARCHAR(32) NOT NULL,
		email           VARCHAR(255) NULL,
		password_hash   VARCHAR(255) NOT NULL,
		role            ENUM('user','mod','agent','admin') NOT NULL DEFAULT 'user',
		tickets_ordered TEXT NULL,
		tickets_bought  TEXT NULL,
		created_at      DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE KEY uq_users_phone (phone_number)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS tickets (
		code      VARCHAR(64) NOT NULL PRIMARY KEY,
		status    ENUM('available','ordered','processing','confirmed') NOT NULL DEFAULT 'available',
		buyer_id  BIGINT UNSIGNED NULL,
		expire_at DATETIME NULL,
		note_for  VARCHAR(255) NOT NULL DEFAULT '',
		KEY idx_tickets_expire (expire_at),
		KEY idx_tickets_status (status)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS orders (
		id             BIGINT UNSIGNED NOT NULL AUTO_INCREMENT PRIMARY KEY,
		buyer_id       BIGINT UNSIGNED NOT NULL,
		amount_bought  INT NOT NULL DEFAULT 0,
		tickets_bought TEXT NULL,
		img_link       MEDIUMTEXT NULL,
		is_in_cart     TINYINT(1) NOT NULL DEFAULT 1,
		confirmed      TINYINT(1) NOT NULL DEFAULT 0,
		created_at     DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at     DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
		open_cart_buyer BIGINT UNSIGNED AS (IF(is_in_cart = 1, buyer_id, NULL)) STORED,
		KEY idx_orders_buyer (buyer_id, is_in_cart),
		UNIQUE KEY uq_orders_open_cart (open_cart_buyer)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS refresh_tokens (
		id         BIGINT UNSIGNED NOT NULL AUTO_INCREMENT PRIMARY KEY,
		user_id    BIGINT UNSIGNED NOT NULL,
		token_hash CHAR(64) NOT NULL,
		expires_at DATETIME NOT NULL,
		revoked_at DATETIME NULL,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE KEY uq_refresh_hash (token_hash),
		KEY idx_refresh_user (user_id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
}

// EnsureSchema creates missing tables. Existing tables are left untouched.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	for i, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement %d: %w", i, err)
		}
	}
	return nil
}
