package peer

import (
	"strings"

	"picomesh/world"
)

// InputMessage 观察端发来的输入（WebSocket 文本消息）
// 示例：{"type":"move","right":0,"up":0,"forward":1}
//
//	{"type":"look","yaw":0.1,"pitch":0}
//	{"type":"fire","backward":false}
//	{"type":"lookat","target":[3,4,5]}
type InputMessage struct {
	Type     string      `json:"type"`
	Right    float64     `json:"right,omitempty"`
	Up       float64     `json:"up,omitempty"`
	Forward  float64     `json:"forward,omitempty"`
	Yaw      float64     `json:"yaw,omitempty"`
	Pitch    float64     `json:"pitch,omitempty"`
	Backward bool        `json:"backward,omitempty"`
	Target   *world.Vec3 `json:"target,omitempty"`
}

// applyInput 把一条输入交给世界的意图接口；未知类型忽略
func applyInput(w *world.World, im InputMessage) bool {
	switch strings.ToLower(im.Type) {
	case "move":
		w.SetMoveIntent(im.Right, im.Up, im.Forward)
	case "look":
		w.Rotate(im.Yaw, im.Pitch)
	case "fire":
		w.Fire(im.Backward)
	case "lookat":
		if im.Target == nil || !im.Target.Finite() {
			return false
		}
		w.LookAt(*im.Target)
	default:
		return false
	}
	return true
}
