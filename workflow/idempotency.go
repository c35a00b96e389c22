package workflow

import (
	"errors"
	"time"

	mysqlDriver "github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/afrimobile/shares_backend/models"
)

func isDuplicateKeyErr(err error) bool {
	var mysqlErr *mysqlDriver.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return false
}

// BeginIdempotency claims (handlerName, messageId) for the current delivery.
// Returns proceed=false when another delivery already succeeded, or when a
// recent claim is still in flight.
func BeginIdempotency(tx *gorm.DB, handlerName string, messageId string) (bool, error) {
	record := models.IdempotencyKey{
		HandlerName: handlerName,
		MessageId:   messageId,
		Status:      models.IdempotencyStatusStarted,
	}
	err := tx.Create(&record).Error
	if err == nil {
		return true, nil
	}
	if !isDuplicateKeyErr(err) {
		return false, err
	}

	var existing models.IdempotencyKey
	findErr := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("handler_name = ? AND message_id = ?", handlerName, messageId).
		First(&existing).Error
	if findErr != nil {
		if errors.Is(findErr, gorm.ErrRecordNotFound) {
			return false, err
		}
		return false, findErr
	}

	switch existing.Status {
	case models.IdempotencyStatusSucceeded:
		return false, nil
	case models.IdempotencyStatusFailed:
		existing.Status = models.IdempotencyStatusStarted
		existing.LastError = nil
		if updErr := tx.Save(&existing).Error; updErr != nil {
			return false, updErr
		}
		return true, nil
	default:
		// STARTED: a claim older than the redelivery window is assumed dead.
		if time.Since(existing.UpdatedAt) > 10*time.Minute {
			existing.UpdatedAt = time.Now()
			if updErr := tx.Save(&existing).Error; updErr != nil {
				return false, updErr
			}
			return true, nil
		}
		return false, nil
	}
}

func MarkIdempotencySucceeded(tx *gorm.DB, handlerName string, messageId string) error {
	return tx.Model(&models.IdempotencyKey{}).
		Where("handler_name = ? AND message_id = ?", handlerName, messageId).
		Update("status", models.IdempotencyStatusSucceeded).Error
}

func MarkIdempotencyFailed(tx *gorm.DB, handlerName string, messageId string, cause error) error {
	msg := cause.Error()
	return tx.Model(&models.IdempotencyKey{}).
		Where("handler_name = ? AND message_id = ?", handlerName, messageId).
		Updates(map[string]interface{}{
			"status":     models.IdempotencyStatusFailed,
			"last_error": &msg,
		}).Error
}
