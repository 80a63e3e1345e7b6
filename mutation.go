package main

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"go.uber.org/zap"
)

type createPpskRequest struct {
	UserGroupID           int64  `json:"user_group_id"`
	Name                  string `json:"name"`
	UserName              string `json:"user_name"`
	Password              string `json:"password"`
	EmailAddress          string `json:"email_address"`
	EmailPasswordDelivery string `json:"email_password_delivery"`
}

type pcgUser struct {
	Name          string `json:"name"`
	Email         string `json:"email"`
	UserGroupName string `json:"user_group_name"`
}

type addPcgUsersRequest struct {
	Users []pcgUser `json:"users"`
}

type deletePcgUsersRequest struct {
	UserIDs []int64 `json:"user_ids"`
}

// CreatePpskUser creates an end user. The remote service generates the key and
// mails it to the user.
func (c *XIQClient) CreatePpskUser(ctx context.Context, name, accountName, email string, groupID int64) error {
	err := c.mutate(ctx, "add PPSK user "+name, http.MethodPost, "/endusers", createPpskRequest{
		UserGroupID:           groupID,
		Name:                  name,
		UserName:              accountName,
		EmailAddress:          email,
		EmailPasswordDelivery: email,
	}, http.StatusOK)
	if err != nil {
		return err
	}

	c.log.Info("created PPSK user", zap.String("account", accountName), zap.Int64("group_id", groupID))

	return nil
}

func (c *XIQClient) DeletePpskUser(ctx context.Context, id int64) error {
	path := "/endusers/" + strconv.FormatInt(id, 10)

	return c.mutate(ctx, fmt.Sprintf("delete PPSK user %d", id), http.MethodDelete, path, nil, http.StatusOK)
}

// AddUserToPcg is accepted asynchronously by the remote service.
func (c *XIQClient) AddUserToPcg(ctx context.Context, policyID int64, accountName, email, groupName string) error {
	req := addPcgUsersRequest{Users: []pcgUser{{
		Name:          accountName,
		Email:         email,
		UserGroupName: groupName,
	}}}

	op := fmt.Sprintf("add %s to PCG policy %d", accountName, policyID)

	return c.mutate(ctx, op, http.MethodPost, pcgUsersPath(policyID), req, http.StatusAccepted)
}

func (c *XIQClient) DeletePcgUser(ctx context.Context, policyID, userID int64) error {
	req := deletePcgUsersRequest{UserIDs: []int64{userID}}
	op := fmt.Sprintf("delete PCG user %d from policy %d", userID, policyID)

	return c.mutate(ctx, op, http.MethodDelete, pcgUsersPath(policyID), req, http.StatusAccepted)
}

func (c *XIQClient) mutate(ctx context.Context, op, method, path string, payload any, want int) error {
	status, body, err := c.do(ctx, method, path, payload)
	if err != nil {
		return &RemoteMutationError{Op: op, Err: err}
	}

	if status != want {
		return &RemoteMutationError{Op: op, Status: status, Body: trimBody(body)}
	}

	return nil
}
