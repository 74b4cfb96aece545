/*
 * MIT License
 *
 * Copyright (c) 2025 linux.do
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 */

package db

import (
	"fmt"

	"github.com/seatunnel/procd/internal/config"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

// mysqlDSN 构造 MySQL 连接串，parseTime 保证时间列映射为 time.Time
func mysqlDSN(dbConfig config.DatabaseConfig) string {
	return fmt.Sprintf(
		"%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		dbConfig.Username,
		dbConfig.Password,
		dbConfig.Host,
		dbConfig.Port,
		dbConfig.Database,
	)
}

// initMySQLDialector 初始化 MySQL 驱动
func initMySQLDialector(dbConfig config.DatabaseConfig) (gorm.Dialector, error) {
	if dbConfig.Host == "" || dbConfig.Database == "" {
		return nil, fmt.Errorf("mysql requires host and database")
	}
	return mysql.New(mysql.Config{
		DSN:                       mysqlDSN(dbConfig),
		DefaultStringSize:         256,
		SkipInitializeWithVersion: false,
	}), nil
}
