package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"go.uber.org/zap"
)

type ppskPage struct {
	Page       int              `json:"page"`
	Count      int              `json:"count"`
	TotalPages int              `json:"total_pages"`
	TotalCount int              `json:"total_count"`
	Data       []RemotePpskUser `json:"data"`
}

// ListPpskUsers returns every end user of a user group. The page count reported
// by the first response bounds the number of requests.
func (c *XIQClient) ListPpskUsers(ctx context.Context, groupID int64) ([]RemotePpskUser, error) {
	op := fmt.Sprintf("list PPSK users of group %d", groupID)

	var users []RemotePpskUser

	pageCount := 1
	for page := 1; page <= pageCount; page++ {
		query := url.Values{}
		query.Set("page", strconv.Itoa(page))
		query.Set("limit", strconv.Itoa(c.cfg.PageSize))
		query.Set("user_group_ids", strconv.FormatInt(groupID, 10))

		status, body, err := c.do(ctx, http.MethodGet, "/endusers?"+query.Encode(), nil)
		if err != nil {
			return nil, &RemoteSourceError{Op: op, Err: err}
		}

		if status != http.StatusOK {
			return nil, &RemoteSourceError{Op: op, Status: status, Body: trimBody(body)}
		}

		var resp ppskPage
		if err := json.Unmarshal([]byte(body), &resp); err != nil {
			return nil, &UnexpectedError{Op: op, Err: fmt.Errorf("decode page %d: %w", page, err)}
		}

		if page == 1 {
			pageCount = resp.TotalPages
		}

		users = append(users, resp.Data...)
		c.log.Debug("completed page of PPSK users",
			zap.Int64("group_id", groupID),
			zap.Int("page", page),
			zap.Int("total_pages", pageCount),
		)
	}

	return users, nil
}

func (c *XIQClient) ListPcgUsers(ctx context.Context, policyID int64) ([]RemotePcgUser, error) {
	op := fmt.Sprintf("list PCG users of policy %d", policyID)

	status, body, err := c.do(ctx, http.MethodGet, pcgUsersPath(policyID), nil)
	if err != nil {
		return nil, &RemoteSourceError{Op: op, Err: err}
	}

	if status != http.StatusOK {
		return nil, &RemoteSourceError{Op: op, Status: status, Body: trimBody(body)}
	}

	var users []RemotePcgUser
	if err := json.Unmarshal([]byte(body), &users); err != nil {
		return nil, &UnexpectedError{Op: op, Err: fmt.Errorf("decode: %w", err)}
	}

	return users, nil
}

func pcgUsersPath(policyID int64) string {
	return "/pcgs/key-based/network-policy-" + strconv.FormatInt(policyID, 10) + "/users"
}
