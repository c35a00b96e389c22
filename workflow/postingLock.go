package workflow

import (
	"fmt"

	"gorm.io/gorm"
)

// AcquireTransactionPostingLock serializes status transitions per transaction
// id across instances using MySQL advisory locks.
// NOTE: GET_LOCK is connection-scoped, so this must be called on the same
// *gorm.DB that will do the posting transaction.
func AcquireTransactionPostingLock(tx *gorm.DB, transactionId string) error {
	lockName := fmt.Sprintf("purchase:%s", transactionId)
	var ok int
	if err := tx.Raw("SELECT GET_LOCK(?, 30)", lockName).Scan(&ok).Error; err != nil {
		return err
	}
	if ok != 1 {
		return fmt.Errorf("could not acquire posting lock for transaction_id=%s", transactionId)
	}
	return nil
}

func ReleaseTransactionPostingLock(tx *gorm.DB, transactionId string) {
	lockName := fmt.Sprintf("purchase:%s", transactionId)
	var _ok int
	_ = tx.Raw("SELECT RELEASE_LOCK(?)", lockName).Scan(&_ok).Error
}
