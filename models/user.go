package models

import (
	"context"

	"gorm.io/gorm"

	"github.com/afrimobile/shares_backend/utils"
)

// User carries only what the purchase core needs: the upline pointer and an
// email for lifecycle notifications. Account management lives elsewhere.
type User struct {
	ID         int    `gorm:"primary_key" json:"id"`
	Email      string `gorm:"size:255;not null;uniqueIndex" json:"email"`
	Name       string `gorm:"size:255" json:"name"`
	ReferrerId *int   `gorm:"index" json:"referrer_id"`
}

func GetUserById(ctx context.Context, id int) (*User, error) {
	return utils.FetchSingleModel[User](ctx, id)
}

// Upline returns the referrer chain above a user, oldest generation last,
// at most maxDepth hops. It reads through the caller's transaction so a
// settlement sees one consistent chain. A cycle in referrer pointers cannot
// loop the walk because it is bounded by the hop count; a hop that revisits
// a user already in the chain (or the buyer) stops the walk.
func Upline(tx *gorm.DB, userId int, maxDepth int) ([]*User, error) {
	chain := make([]*User, 0, maxDepth)
	seen := map[int]struct{}{userId: {}}
	currentId := userId
	for g := 0; g < maxDepth; g++ {
		var referrerId *int
		if err := tx.Model(&User{}).
			Where("id = ?", currentId).Select("referrer_id").Scan(&referrerId).Error; err != nil {
			return nil, err
		}
		if referrerId == nil {
			break
		}
		if _, dup := seen[*referrerId]; dup {
			break
		}
		var referrer User
		if err := tx.Where("id = ?", *referrerId).First(&referrer).Error; err != nil {
			// Dangling pointer: treat as a missing hop.
			break
		}
		chain = append(chain, &referrer)
		seen[*referrerId] = struct{}{}
		currentId = *referrerId
	}
	return chain, nil
}
