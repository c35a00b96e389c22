package main

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/afrimobile/shares_backend/config"
	"github.com/afrimobile/shares_backend/models"
	"github.com/afrimobile/shares_backend/utils"
	"github.com/afrimobile/shares_backend/workflow"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// respondError translates the core's error taxonomy to HTTP. Integrity
// errors deliberately say nothing useful to the caller beyond an incident id
// to quote at support.
func respondError(c *gin.Context, err error) {
	var appErr *utils.AppError
	if errors.As(err, &appErr) {
		switch appErr.Kind {
		case utils.ErrorKindValidation:
			c.JSON(http.StatusBadRequest, gin.H{"error": appErr.Message})
		case utils.ErrorKindNotFound:
			c.JSON(http.StatusNotFound, gin.H{"error": appErr.Message})
		case utils.ErrorKindConflict:
			c.JSON(http.StatusConflict, gin.H{"error": appErr.Message})
		case utils.ErrorKindInsufficientCapacity:
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": appErr.Message})
		case utils.ErrorKindRail:
			c.JSON(http.StatusBadGateway, gin.H{"error": appErr.Message, "retryable": appErr.Transient})
		case utils.ErrorKindIntegrity:
			incident := appErr.IncidentId
			if incident == "" {
				incident = uuid.NewString()
			}
			config.LogError(config.GetLogger(), "server.go", "respondError", "integrity incident "+incident, nil, appErr)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "something went wrong, contact support", "incident_id": incident})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": appErr.Message})
		}
		return
	}

	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) {
		c.JSON(http.StatusBadRequest, gin.H{"errors": utils.ProcessValidationErrors(err)})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}

func requireUserId(c *gin.Context) (int, bool) {
	userId, ok := utils.GetUserIdFromContext(c.Request.Context())
	if !ok || userId <= 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user identity required"})
		return 0, false
	}
	return userId, true
}

func adminIdFrom(c *gin.Context) int {
	adminId, _ := utils.GetAdminIdFromContext(c.Request.Context())
	return adminId
}

/* Inventory */

func availabilityHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		tiers, coFounder, err := workflow.ShareAvailability(c.Request.Context())
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"tiers": tiers,
			"co_founder": gin.H{
				"total_capacity": coFounder.TotalCapacity,
				"sold_count":     coFounder.SoldCount,
				"available":      coFounder.TotalCapacity - coFounder.SoldCount,
				"ratio":          coFounder.ShareToRegularRatio,
			},
		})
	}
}

func quoteHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		shares, err := strconv.ParseInt(c.Query("shares"), 10, 64)
		if err != nil {
			respondError(c, utils.NewValidationError("shares must be an integer"))
			return
		}
		quote, err := workflow.QuoteShares(c.Request.Context(),
			models.ShareKind(c.Query("kind")), shares, models.Currency(c.Query("currency")))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, quote)
	}
}

/* Purchases by rail */

type beginPurchaseRequest struct {
	Kind     models.ShareKind `json:"kind" binding:"required"`
	Shares   int64            `json:"shares" binding:"required,gt=0"`
	Email    string           `json:"email"`
	FromAddr string           `json:"from_addr"`
}

func beginCardPurchaseHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userId, ok := requireUserId(c)
		if !ok {
			return
		}
		var req beginPurchaseRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, err)
			return
		}
		email := req.Email
		if email == "" {
			email, _ = utils.GetUserEmailFromContext(c.Request.Context())
		}
		txn, authURL, err := workflow.BeginCardPurchase(c.Request.Context(), config.GetLogger(), userId, req.Kind, req.Shares, email)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"transaction": txn, "authorization_url": authURL})
	}
}

func cardCallbackHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		reference := c.Query("reference")
		if reference == "" {
			reference = c.Query("trxref")
		}
		if reference == "" {
			respondError(c, utils.NewValidationError("reference query param is required"))
			return
		}
		txn, err := workflow.ConfirmCardPayment(c.Request.Context(), config.GetLogger(), reference)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"transaction": txn})
	}
}

func beginChainPurchaseHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userId, ok := requireUserId(c)
		if !ok {
			return
		}
		var req beginPurchaseRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, err)
			return
		}
		txn, wallet, err := workflow.BeginChainPurchase(c.Request.Context(), config.GetLogger(), userId, req.Kind, req.Shares, req.FromAddr)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"transaction": txn, "wallet_address": wallet})
	}
}

type submitHashRequest struct {
	TxHash string `json:"tx_hash" binding:"required"`
}

func submitChainHashHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req submitHashRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, err)
			return
		}
		logger := config.GetLogger()
		txn, err := workflow.SubmitChainHash(c.Request.Context(), logger, c.Param("txId"), req.TxHash)
		if err != nil {
			respondError(c, err)
			return
		}
		workflow.ScheduleChainVerification(logger, txn.TransactionId)
		c.JSON(http.StatusOK, gin.H{"transaction": txn})
	}
}

func beginInvoicePurchaseHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userId, ok := requireUserId(c)
		if !ok {
			return
		}
		var req beginPurchaseRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, err)
			return
		}
		email := req.Email
		if email == "" {
			email, _ = utils.GetUserEmailFromContext(c.Request.Context())
		}
		txn, paymentURL, err := workflow.BeginInvoicePurchase(c.Request.Context(), config.GetLogger(), userId, req.Kind, req.Shares, email)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"transaction": txn, "payment_url": paymentURL})
	}
}

type beginManualPurchaseRequest struct {
	Kind       models.ShareKind           `json:"kind" binding:"required"`
	Shares     int64                      `json:"shares" binding:"required,gt=0"`
	Currency   models.Currency            `json:"currency" binding:"required"`
	Method     models.ManualPaymentMethod `json:"method" binding:"required"`
	ProofImage string                     `json:"proof_image" binding:"required"`
}

func beginManualPurchaseHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userId, ok := requireUserId(c)
		if !ok {
			return
		}
		var req beginManualPurchaseRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, err)
			return
		}
		txn, err := workflow.BeginManualPurchase(c.Request.Context(), config.GetLogger(),
			userId, req.Kind, req.Shares, req.Currency, req.Method, req.ProofImage)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"transaction": txn})
	}
}

func listMyTransactionsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userId, ok := requireUserId(c)
		if !ok {
			return
		}
		txns, err := models.ListUserTransactions(c.Request.Context(), userId)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"transactions": txns})
	}
}

/* Installment plans */

func createPlanHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userId, ok := requireUserId(c)
		if !ok {
			return
		}
		var req models.NewInstallmentPlan
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, err)
			return
		}
		req.UserId = userId
		plan, err := models.CreateInstallmentPlan(c.Request.Context(), &req)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"plan": plan})
	}
}

func getPlanHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		plan, err := models.GetInstallmentPlan(c.Request.Context(), c.Param("planId"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"plan": plan})
	}
}

type planPaymentRequest struct {
	Amount int64 `json:"amount" binding:"required,gt=0"`
}

func beginPlanPaymentHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req planPaymentRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, err)
			return
		}
		txn, err := workflow.BeginInstallmentPayment(c.Request.Context(), config.GetLogger(), c.Param("planId"), req.Amount, nil)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"transaction": txn})
	}
}

func cancelPlanHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userId, ok := requireUserId(c)
		if !ok {
			return
		}
		plan, err := workflow.CancelInstallmentPlan(c.Request.Context(), config.GetLogger(),
			c.Param("planId"), models.ActorUser, userId, "cancelled by owner")
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"plan": plan})
	}
}

/* Referrals */

func myReferralsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userId, ok := requireUserId(c)
		if !ok {
			return
		}
		agg, err := models.GetUserReferralAggregate(c.Request.Context(), userId)
		if err != nil {
			respondError(c, err)
			return
		}
		entries, err := models.ListUserReferralEntries(c.Request.Context(), userId)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"aggregate": agg, "entries": entries})
	}
}

/* Webhooks */

func centiivWebhookHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := c.GetRawData()
		if err != nil {
			c.Status(http.StatusNoContent)
			return
		}
		if !workflow.VerifyInvoiceSignature(body, c.GetHeader("x-centiiv-signature")) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "bad signature"})
			return
		}
		var payload struct {
			Id       string `json:"id"`
			OrderId  string `json:"orderId"`
			Status   string `json:"status"`
			Metadata struct {
				TransactionId string `json:"transaction_id"`
			} `json:"metadata"`
			Transaction string `json:"transaction"`
		}
		if err := utils.UnmarshalFromJSON(body, &payload); err != nil {
			// malformed payloads are acked to stop redelivery loops
			c.Status(http.StatusNoContent)
			return
		}
		if payload.OrderId == "" {
			c.Status(http.StatusNoContent)
			return
		}
		if _, err := workflow.HandleInvoiceSignal(c.Request.Context(), config.GetLogger(),
			payload.OrderId, payload.Status, payload.Transaction, payload.Id); err != nil {
			respondError(c, err)
			return
		}
		c.Status(http.StatusOK)
	}
}

func invoiceCallbackHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		orderId := c.Query("id")
		if orderId == "" {
			respondError(c, utils.NewValidationError("id query param is required"))
			return
		}
		txn, err := workflow.HandleInvoiceSignal(c.Request.Context(), config.GetLogger(),
			orderId, c.Query("status"), c.Query("transaction"), "")
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"transaction": txn})
	}
}

/* Admin */

func adminApproveHandler() gin.HandlerFunc {
	return adminAdjudication(func(c *gin.Context, txId string, adminId int, note string) (*models.PurchaseTransaction, error) {
		return workflow.ApproveManualPurchase(c.Request.Context(), config.GetLogger(), txId, adminId, note)
	})
}

func adminRejectHandler() gin.HandlerFunc {
	return adminAdjudication(func(c *gin.Context, txId string, adminId int, note string) (*models.PurchaseTransaction, error) {
		return workflow.RejectManualPurchase(c.Request.Context(), config.GetLogger(), txId, adminId, note)
	})
}

func adminCancelApprovalHandler() gin.HandlerFunc {
	return adminAdjudication(func(c *gin.Context, txId string, adminId int, note string) (*models.PurchaseTransaction, error) {
		return workflow.CancelManualApproval(c.Request.Context(), config.GetLogger(), txId, adminId, note)
	})
}

func adminRefundHandler() gin.HandlerFunc {
	return adminAdjudication(func(c *gin.Context, txId string, adminId int, note string) (*models.PurchaseTransaction, error) {
		return workflow.RefundPurchase(c.Request.Context(), config.GetLogger(), txId, adminId, note)
	})
}

// adminSyncInvoiceHandler re-queries the invoice provider when a webhook is
// suspected lost.
func adminSyncInvoiceHandler() gin.HandlerFunc {
	return adminAdjudication(func(c *gin.Context, txId string, adminId int, note string) (*models.PurchaseTransaction, error) {
		return workflow.SyncInvoiceStatus(c.Request.Context(), config.GetLogger(), txId)
	})
}

type adjudicationRequest struct {
	Note string `json:"note"`
}

func adminAdjudication(action func(c *gin.Context, txId string, adminId int, note string) (*models.PurchaseTransaction, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req adjudicationRequest
		_ = c.ShouldBindJSON(&req)
		txn, err := action(c, c.Param("txId"), adminIdFrom(c), req.Note)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"transaction": txn})
	}
}

type grantRequest struct {
	UserId   int              `json:"user_id" binding:"required"`
	Kind     models.ShareKind `json:"kind" binding:"required"`
	Shares   int64            `json:"shares" binding:"required,gt=0"`
	Currency models.Currency  `json:"currency" binding:"required"`
	Note     string           `json:"note" binding:"required"`
}

func adminGrantHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req grantRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, err)
			return
		}
		txn, err := workflow.GrantShares(c.Request.Context(), config.GetLogger(),
			req.UserId, req.Kind, req.Shares, req.Currency, adminIdFrom(c), req.Note)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"transaction": txn})
	}
}

func adminTierPricingHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.NewTierPricing
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, err)
			return
		}
		tier, err := models.UpdateTierPricing(c.Request.Context(), &req)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"tier": tier})
	}
}

func adminCoFounderPricingHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.NewCoFounderPricing
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, err)
			return
		}
		cfg, err := models.UpdateCoFounderPricing(c.Request.Context(), &req)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"co_founder": cfg})
	}
}

type referralAdjustmentRequest struct {
	UserId     int             `json:"user_id" binding:"required"`
	Generation int             `json:"generation" binding:"required"`
	Amount     int64           `json:"amount" binding:"required"`
	Currency   models.Currency `json:"currency" binding:"required"`
	Reason     string          `json:"reason" binding:"required"`
}

func adminReferralAdjustHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req referralAdjustmentRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, err)
			return
		}
		entry, err := workflow.AddReferralAdjustment(c.Request.Context(), config.GetLogger(),
			req.UserId, req.Generation, req.Amount, req.Currency, adminIdFrom(c), req.Reason)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"entry": entry})
	}
}

type referralEditRequest struct {
	Amount *int64                      `json:"amount"`
	Status *models.ReferralEntryStatus `json:"status"`
	Reason string                      `json:"reason" binding:"required"`
}

func adminReferralEditHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		entryId, err := strconv.Atoi(c.Param("entryId"))
		if err != nil {
			respondError(c, utils.NewValidationError("entryId must be an integer"))
			return
		}
		var req referralEditRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, err)
			return
		}
		entry, err := workflow.EditReferralEntry(c.Request.Context(), config.GetLogger(),
			entryId, req.Amount, req.Status, adminIdFrom(c), req.Reason)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"entry": entry})
	}
}

func adminReferralSyncHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userId, err := strconv.Atoi(c.Param("userId"))
		if err != nil {
			respondError(c, utils.NewValidationError("userId must be an integer"))
			return
		}
		agg, err := workflow.SyncReferralStats(c.Request.Context(), config.GetLogger(), userId)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"aggregate": agg})
	}
}

func adminLateFeeSweepHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		count, err := workflow.RunLateFeeSweep(c.Request.Context(), config.GetLogger(), time.Now().UTC())
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"late_plans": count})
	}
}

func adminStuckSweepHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		report, err := workflow.RunStuckTransactionSweep(c.Request.Context(), config.GetLogger(), time.Now().UTC())
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"stuck": report})
	}
}

// outboxReplayHandler requeues DEAD or FAILED outbox rows so the dispatcher
// picks them up again.
func outboxReplayHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Ids []int `json:"ids" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, err)
			return
		}
		result := config.GetDB().WithContext(c.Request.Context()).
			Model(&models.PurchaseEventRecord{}).
			Where("id IN ? AND publish_status IN ?", req.Ids,
				[]string{models.OutboxPublishStatusDead, models.OutboxPublishStatusFailed}).
			Updates(map[string]interface{}{
				"publish_status":     models.OutboxPublishStatusPending,
				"publish_attempts":   0,
				"next_attempt_at":    nil,
				"locked_at":          nil,
				"locked_by":          nil,
				"last_publish_error": nil,
			})
		if result.Error != nil {
			respondError(c, result.Error)
			return
		}
		c.JSON(http.StatusOK, gin.H{"requeued": result.RowsAffected})
	}
}
