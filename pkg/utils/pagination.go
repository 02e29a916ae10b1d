package utils

import (
	"strconv"

	"github.com/labstack/echo/v4"
)

// PaginationParams carries limit/offset extracted from a request. Message
// history is always ordered by the store; pagination only windows it.
type PaginationParams struct {
	Limit  int
	Offset int
}

func GetPaginationParams(c echo.Context) PaginationParams {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	offset, _ := strconv.Atoi(c.QueryParam("offset"))

	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	return PaginationParams{
		Limit:  limit,
		Offset: offset,
	}
}
