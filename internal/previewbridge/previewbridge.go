/* SPDX-License-Identifier: GPL-3.0-or-later
 *
 * camcore
 * Copyright (C) 2025 e1z0 <e1z0@icloud.com>
 *
 * This file is part of camcore.
 *
 * camcore is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * camcore is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with camcore.  If not, see <https://www.gnu.org/licenses/>.
 */

// Package previewbridge exposes each camera's live display frame to
// external viewers over a small gin HTTP API plus a gorilla/websocket
// push stream, so a preview UI never has to poll the handler directly.
package previewbridge

import (
	"image"
	"image/jpeg"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// FrameSource is the subset of *handler.Handler the bridge needs.
type FrameSource interface {
	GetDisplayFrame() (pixels []byte, width, height int)
}

// Bridge serves preview frames for a fixed set of cameras.
type Bridge struct {
	cameras  map[int]FrameSource
	log      *zap.SugaredLogger
	upgrader websocket.Upgrader

	pushInterval time.Duration
}

// New builds a bridge over the given camera-number -> handler map.
func New(cameras map[int]FrameSource, log *zap.SugaredLogger) *Bridge {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Bridge{
		cameras:      cameras,
		log:          log,
		pushInterval: 100 * time.Millisecond,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024 * 64,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Router builds the gin engine exposing /cameras, /cameras/:id/snapshot.jpg
// and /cameras/:id/stream (websocket, one JPEG frame per pushInterval).
func (b *Bridge) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/cameras", b.listCameras)
	r.GET("/cameras/:id/snapshot.jpg", b.snapshot)
	r.GET("/cameras/:id/stream", b.stream)
	return r
}

func (b *Bridge) listCameras(c *gin.Context) {
	ids := make([]int, 0, len(b.cameras))
	for id := range b.cameras {
		ids = append(ids, id)
	}
	c.JSON(http.StatusOK, gin.H{"cameras": ids})
}

func (b *Bridge) cameraByParam(c *gin.Context) (FrameSource, int, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid camera id"})
		return nil, 0, false
	}
	src, ok := b.cameras[id]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "camera not found"})
		return nil, 0, false
	}
	return src, id, true
}

func (b *Bridge) snapshot(c *gin.Context) {
	src, _, ok := b.cameraByParam(c)
	if !ok {
		return
	}
	pixels, w, h := src.GetDisplayFrame()
	if pixels == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no frame available yet"})
		return
	}
	c.Header("Content-Type", "image/jpeg")
	if err := jpeg.Encode(c.Writer, rgbToImage(pixels, w, h), &jpeg.Options{Quality: 80}); err != nil {
		b.log.Warnw("snapshot encode failed", "err", err)
	}
}

func (b *Bridge) stream(c *gin.Context) {
	src, camID, ok := b.cameraByParam(c)
	if !ok {
		return
	}
	conn, err := b.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		b.log.Warnw("websocket upgrade failed", "camera_id", camID, "err", err)
		return
	}
	defer conn.Close()

	ticker := time.NewTicker(b.pushInterval)
	defer ticker.Stop()

	for range ticker.C {
		pixels, w, h := src.GetDisplayFrame()
		if pixels == nil {
			continue
		}
		writer, err := conn.NextWriter(websocket.BinaryMessage)
		if err != nil {
			return
		}
		if err := jpeg.Encode(writer, rgbToImage(pixels, w, h), &jpeg.Options{Quality: 70}); err != nil {
			b.log.Warnw("stream encode failed", "camera_id", camID, "err", err)
			writer.Close()
			return
		}
		if err := writer.Close(); err != nil {
			return
		}
	}
}

func rgbToImage(pixels []byte, w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	stride := w * 3
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			si := y*stride + x*3
			if si+2 >= len(pixels) {
				continue
			}
			di := img.PixOffset(x, y)
			img.Pix[di] = pixels[si]
			img.Pix[di+1] = pixels[si+1]
			img.Pix[di+2] = pixels[si+2]
			img.Pix[di+3] = 0xff
		}
	}
	return img
}
