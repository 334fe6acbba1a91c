package node

import (
	"context"

	"github.com/gin-gonic/gin"
)

// Node is an HTTP-facing process in a meshbridge deployment.
type Node interface {
	NodeID() string
	Kind() string
	HTTPRouter() *gin.Engine
	// Ready reports nil once the node can serve its mesh traffic.
	Ready(ctx context.Context) error
}
