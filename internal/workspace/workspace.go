// Package workspace 管理单测的临时工作区与解释器缓存清理。
package workspace

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Acquire 在 parent（空表示系统临时目录）下创建独占的临时目录。
// release 删除该目录及其内容，可重复调用。
func Acquire(parent, prefix string) (dir string, release func() error, err error) {
	if strings.TrimSpace(parent) != "" {
		if err := os.MkdirAll(parent, 0o755); err != nil {
			return "", nil, err
		}
	}
	if prefix == "" {
		prefix = "sweflow-"
	}
	dir, err = os.MkdirTemp(parent, prefix+"*")
	if err != nil {
		return "", nil, err
	}
	released := false
	release = func() error {
		if released {
			return nil
		}
		released = true
		return os.RemoveAll(dir)
	}
	return dir, release, nil
}

// CacheDirs: 解释器与测试框架在项目内留下的缓存目录名。
var CacheDirs = []string{"__pycache__", ".pytest_cache"}

// Purge 递归删除 root 下全部缓存目录，返回删除数量。
// 单个目录删除失败不中断遍历，错误合并返回。
func Purge(root string) (int, error) {
	var errs []error
	n := 0
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == root {
				return err
			}
			// 遍历中途消失的目录忽略
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			errs = append(errs, err)
			return nil
		}
		if !d.IsDir() || !isCacheDir(d.Name()) {
			return nil
		}
		if rerr := os.RemoveAll(p); rerr != nil {
			errs = append(errs, rerr)
		} else {
			n++
		}
		return filepath.SkipDir
	})
	if err != nil {
		return n, err
	}
	return n, errors.Join(errs...)
}

func isCacheDir(name string) bool {
	for _, c := range CacheDirs {
		if name == c {
			return true
		}
	}
	return false
}
