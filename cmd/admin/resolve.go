package admin

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	logger "github.com/sirupsen/logrus"
)

// ResolveWithdrawal asks the running bot to settle an interrupted payout.
func ResolveWithdrawal(serverURL, token, withdrawalID string, paid bool) error {
	return resolveWithdrawal(resty.New().SetBaseURL(serverURL).SetTimeout(30*time.Second), token, withdrawalID, paid)
}

func resolveWithdrawal(client *resty.Client, token, withdrawalID string, paid bool) error {
	if token == "" {
		return fmt.Errorf("admin token required")
	}

	resp, err := client.R().
		SetAuthToken(token).
		SetPathParam("id", withdrawalID).
		SetBody(map[string]bool{"paid": paid}).
		Post("/withdrawals/{id}/resolve")
	if err != nil {
		return err
	}
	if resp.StatusCode() != http.StatusNoContent {
		return fmt.Errorf("resolve %s: HTTP %d: %s", withdrawalID, resp.StatusCode(), resp.String())
	}

	logger.WithFields(map[string]interface{}{
		"withdrawal_id": withdrawalID,
		"paid":          paid,
	}).Info("withdrawal resolved")
	return nil
}
