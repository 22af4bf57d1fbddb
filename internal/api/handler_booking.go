package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"wasch-booking-backend/internal/mw"
	"wasch-booking-backend/internal/parse"
)

type slotResponse struct {
	Time  time.Time `json:"time"`
	Index int       `json:"index"`
}

// GetSlots lists the slots of the current booking horizon.
func (h *Handler) GetSlots(c *gin.Context) {
	slots := h.cal.ScheduledSlots(time.Time{})
	resp := make([]slotResponse, len(slots))
	for i, t := range slots {
		resp[i] = slotResponse{Time: t, Index: h.cal.SlotIndexContaining(t)}
	}
	c.JSON(http.StatusOK, gin.H{
		"slots":               resp,
		"slot_length_minutes": int(h.cal.SlotLength() / time.Minute),
		"timezone":            h.cal.Location().String(),
	})
}

type machineResponse struct {
	Number      int    `json:"number"`
	IsAvailable bool   `json:"is_available"`
	Notes       string `json:"notes,omitempty"`
}

// GetMachines lists every machine.
func (h *Handler) GetMachines(c *gin.Context) {
	machines, err := h.store.ListMachines(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	resp := make([]machineResponse, len(machines))
	for i, m := range machines {
		resp[i] = machineResponse{Number: m.Number, IsAvailable: m.IsAvailable, Notes: m.Notes}
	}
	c.JSON(http.StatusOK, resp)
}

type cellResponse struct {
	Time       time.Time `json:"time"`
	Machine    int       `json:"machine"`
	Bookable   bool      `json:"bookable"`
	Reason     int       `json:"reason"`
	ReasonText string    `json:"reason_text"`
}

// GetGrid answers WhyNotBookable for the acting user over the whole horizon.
// An optional machines query parameter restricts the columns, e.g. ?machines=1,2.
func (h *Handler) GetGrid(c *gin.Context) {
	var machines []int
	if raw := c.Query("machines"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			n, err := parse.ParseMachine(part)
			if err != nil {
				badRequest(c, err)
				return
			}
			machines = append(machines, n)
		}
	}

	user := mw.User(c)
	grid, err := h.eval.Prefetch(c.Request.Context(), []string{user}, nil, machines)
	if err != nil {
		h.writeError(c, err)
		return
	}

	cells := make([]cellResponse, 0, len(grid.Times)*len(grid.Machines))
	for _, t := range grid.Times {
		for _, m := range grid.Machines {
			r, _ := grid.Reason(m, user, t)
			cells = append(cells, cellResponse{
				Time:       t,
				Machine:    m,
				Bookable:   grid.Bookable(m, user, t),
				Reason:     int(r),
				ReasonText: r.String(),
			})
		}
	}
	c.JSON(http.StatusOK, gin.H{"user": user, "cells": cells})
}

// GetRation reports how many more appointments the acting user may book
// this month.
func (h *Handler) GetRation(c *gin.Context) {
	remaining, unlimited, err := h.eval.RemainingRation(c.Request.Context(), mw.User(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	from, to := h.eval.RationPeriod()
	c.JSON(http.StatusOK, gin.H{
		"remaining": remaining,
		"unlimited": unlimited,
		"from":      from,
		"to":        to,
	})
}

// GetBonus returns the acting user's bonus balance.
func (h *Handler) GetBonus(c *gin.Context) {
	if h.bonus == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "bonus payments are not configured"})
		return
	}
	balance, err := h.bonus.Balance(c.Request.Context(), mw.User(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"balance": balance})
}
