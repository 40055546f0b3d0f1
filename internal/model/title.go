// Package model はドメインモデルを定義する。
package model

import "time"

// Title はカタログ上の作品を表す。物理的なコピーとは区別される。
// TotalCopiesとAvailableCopiesは在庫台帳（Inventory Ledger）のみが変更する。
// 不変条件: 0 <= AvailableCopies <= TotalCopies
type Title struct {
	ID              string
	Name            string
	TotalCopies     int
	AvailableCopies int
	Active          bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
