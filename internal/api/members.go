package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"membership-api/internal/database"
	"membership-api/internal/response"

	"github.com/gin-gonic/gin"
)

const defaultTransactionLimit = 500

var nowUTC = func() time.Time { return time.Now().UTC() }

func botParam(c *gin.Context) string {
	return strings.ToLower(strings.TrimSpace(c.Param("bot")))
}

func userParam(c *gin.Context) (int64, bool) {
	userID, err := strconv.ParseInt(c.Param("user"), 10, 64)
	if err != nil || userID == 0 {
		response.ErrorJSON(c, http.StatusBadRequest, "Invalid user id")
		return 0, false
	}
	return userID, true
}

// ListMembers lists a bot's members; ?active=true keeps only active ones
func (h *Handlers) ListMembers(c *gin.Context) {
	activeOnly, _ := strconv.ParseBool(c.DefaultQuery("active", "false"))

	members, err := h.Members.ListMembers(c.Request.Context(), botParam(c), activeOnly)
	if err != nil {
		response.ErrorJSON(c, http.StatusInternalServerError, "Failed to list members")
		return
	}
	response.SuccessJSON(c, members)
}

// GetMember returns one member with a computed has_access flag
func (h *Handlers) GetMember(c *gin.Context) {
	userID, ok := userParam(c)
	if !ok {
		return
	}

	member, err := h.Members.GetMember(c.Request.Context(), userID, botParam(c))
	if err != nil {
		if errors.Is(err, database.ErrMemberNotFound) {
			response.ErrorJSON(c, http.StatusNotFound, "Member not found")
			return
		}
		response.ErrorJSON(c, http.StatusInternalServerError, "Failed to get member")
		return
	}

	response.SuccessJSON(c, gin.H{
		"member":     member,
		"has_access": member.HasAccess(nowUTC()),
	})
}

// RevokeMember deactivates a member and removes them from the channel
func (h *Handlers) RevokeMember(c *gin.Context) {
	userID, ok := userParam(c)
	if !ok {
		return
	}

	if err := h.Reports.Revoke(c.Request.Context(), userID, botParam(c)); err != nil {
		if errors.Is(err, database.ErrMemberNotFound) {
			response.ErrorJSON(c, http.StatusNotFound, "Member not found")
			return
		}
		response.ErrorJSON(c, http.StatusInternalServerError, "Failed to revoke member: "+err.Error())
		return
	}

	response.SuccessJSON(c, gin.H{"user_id": userID, "bot_name": botParam(c), "active": false})
}

// ListTransactions returns payment rows, newest first
func (h *Handlers) ListTransactions(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultTransactionLimit)))
	if err != nil || limit <= 0 {
		limit = defaultTransactionLimit
	}

	bot := strings.ToLower(strings.TrimSpace(c.Query("bot")))
	transactions, err := h.Transactions.ListTransactions(c.Request.Context(), bot, limit)
	if err != nil {
		response.ErrorJSON(c, http.StatusInternalServerError, "Failed to list transactions")
		return
	}
	response.SuccessJSON(c, transactions)
}

// SendReport sends the daily report now
func (h *Handlers) SendReport(c *gin.Context) {
	if err := h.Reports.SendDailyReports(c.Request.Context()); err != nil {
		response.ErrorJSON(c, http.StatusBadGateway, "Report delivery failed: "+err.Error())
		return
	}
	response.SuccessJSON(c, gin.H{"sent": len(h.Gateways)})
}

// SweepExpired deactivates lapsed members now
func (h *Handlers) SweepExpired(c *gin.Context) {
	swept, err := h.Reports.SweepExpired(c.Request.Context())
	if err != nil {
		response.ErrorJSON(c, http.StatusInternalServerError, "Sweep finished with errors: "+err.Error())
		return
	}
	response.SuccessJSON(c, gin.H{"deactivated": swept})
}
