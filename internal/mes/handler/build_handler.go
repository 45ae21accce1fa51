package handler

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/bitfantasy/nimo-mes/internal/mes/repository"
	"github.com/bitfantasy/nimo-mes/internal/mes/service"
	"github.com/gin-gonic/gin"
)

type BuildHandler struct {
	svc    *service.BuildService
	export *service.ExportService
}

func NewBuildHandler(svc *service.BuildService, export *service.ExportService) *BuildHandler {
	return &BuildHandler{svc: svc, export: export}
}

func (h *BuildHandler) Create(c *gin.Context) {
	var req service.CreateBuildRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": 10001, "message": err.Error()})
		return
	}
	userID, _ := c.Get("user_id")
	order, err := h.svc.Create(req, userID.(string))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": 10004, "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 0, "message": "success", "data": order})
}

func (h *BuildHandler) Get(c *gin.Context) {
	order, err := h.svc.GetByID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"code": 10002, "message": "生产订单不存在"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 0, "message": "success", "data": order})
}

func (h *BuildHandler) List(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	size, _ := strconv.Atoi(c.DefaultQuery("size", "20"))
	params := repository.BuildListParams{
		Status:   c.Query("status"),
		PartID:   c.Query("part_id"),
		ParentID: c.Query("parent_id"),
		Keyword:  c.Query("keyword"),
		Page:     page,
		Size:     size,
	}
	orders, total, err := h.svc.List(params)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": 50001, "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 0, "message": "success", "data": gin.H{"items": orders, "total": total, "page": page, "size": size}})
}

func (h *BuildHandler) Update(c *gin.Context) {
	var req service.UpdateBuildRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": 10001, "message": err.Error()})
		return
	}
	userID, _ := c.Get("user_id")
	order, err := h.svc.Update(c.Param("id"), req, userID.(string))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": 10004, "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 0, "message": "success", "data": order})
}

func (h *BuildHandler) Lines(c *gin.Context) {
	lines, err := h.svc.Lines(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": 50001, "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 0, "message": "success", "data": lines})
}

func (h *BuildHandler) Issue(c *gin.Context) {
	userID, _ := c.Get("user_id")
	if err := h.svc.Issue(c.Param("id"), userID.(string)); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": 10004, "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 0, "message": "success"})
}

func (h *BuildHandler) Hold(c *gin.Context) {
	userID, _ := c.Get("user_id")
	if err := h.svc.Hold(c.Param("id"), userID.(string)); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": 10004, "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 0, "message": "success"})
}

func (h *BuildHandler) Revert(c *gin.Context) {
	userID, _ := c.Get("user_id")
	if err := h.svc.Revert(c.Param("id"), userID.(string)); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": 10004, "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 0, "message": "success"})
}

func (h *BuildHandler) Cancel(c *gin.Context) {
	var req service.CancelBuildRequest
	c.ShouldBindJSON(&req)
	userID, _ := c.Get("user_id")
	if err := h.svc.Cancel(c.Param("id"), req, userID.(string)); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": 10004, "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 0, "message": "success"})
}

func (h *BuildHandler) Complete(c *gin.Context) {
	var req service.CompleteBuildRequest
	c.ShouldBindJSON(&req)
	userID, _ := c.Get("user_id")
	if err := h.svc.Complete(c.Param("id"), req, userID.(string)); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": 10004, "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 0, "message": "success"})
}

func (h *BuildHandler) Allocate(c *gin.Context) {
	var req struct {
		Items []service.AllocationRequest `json:"items" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": 10001, "message": err.Error()})
		return
	}
	userID, _ := c.Get("user_id")
	if err := h.svc.AllocateStock(c.Param("id"), req.Items, userID.(string)); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": 10004, "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 0, "message": "success"})
}

func (h *BuildHandler) Deallocate(c *gin.Context) {
	var req struct {
		BuildLineID string `json:"build_line_id"`
		OutputID    string `json:"output_id"`
	}
	c.ShouldBindJSON(&req)
	if err := h.svc.DeallocateStock(c.Param("id"), req.BuildLineID, req.OutputID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": 10004, "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 0, "message": "success"})
}

func (h *BuildHandler) AutoAllocate(c *gin.Context) {
	var req service.AutoAllocateRequest
	c.ShouldBindJSON(&req)
	userID, _ := c.Get("user_id")
	if err := h.svc.AutoAllocateStock(c.Param("id"), req, userID.(string)); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": 10004, "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 0, "message": "success"})
}

func (h *BuildHandler) CreateOutput(c *gin.Context) {
	var req service.CreateOutputRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": 10001, "message": err.Error()})
		return
	}
	userID, _ := c.Get("user_id")
	outputs, err := h.svc.CreateOutput(c.Param("id"), req, userID.(string))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": 10004, "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 0, "message": "success", "data": outputs})
}

func (h *BuildHandler) CompleteOutput(c *gin.Context) {
	var req service.CompleteOutputRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": 10001, "message": err.Error()})
		return
	}
	userID, _ := c.Get("user_id")
	output, err := h.svc.CompleteOutput(c.Param("id"), req, userID.(string))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": 10004, "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 0, "message": "success", "data": output})
}

func (h *BuildHandler) ScrapOutput(c *gin.Context) {
	var req service.ScrapOutputRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": 10001, "message": err.Error()})
		return
	}
	userID, _ := c.Get("user_id")
	output, err := h.svc.ScrapOutput(c.Param("id"), req, userID.(string))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": 10004, "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 0, "message": "success", "data": output})
}

func (h *BuildHandler) DeleteOutput(c *gin.Context) {
	if err := h.svc.DeleteOutput(c.Param("id"), c.Param("output_id")); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": 10004, "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 0, "message": "success"})
}

// ExportAllocations 下载领料分配表
func (h *BuildHandler) ExportAllocations(c *gin.Context) {
	buf, filename, err := h.export.BuildAllocationReport(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": 10004, "message": err.Error()})
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", buf.Bytes())
}
